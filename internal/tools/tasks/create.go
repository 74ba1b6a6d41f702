package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/pkg/models"
)

// CreateTool creates a task in a project.
type CreateTool struct {
	directory Directory
}

// NewCreateTool creates the create_task tool.
func NewCreateTool(directory Directory) *CreateTool {
	return &CreateTool{directory: directory}
}

func (t *CreateTool) Name() string { return "create_task" }

func (t *CreateTool) Description() string {
	return "Create a new task in a project. Returns the created task including its ID."
}

func (t *CreateTool) Schema() json.RawMessage {
	return agent.SchemaFor(&createInput{})
}

type createInput struct {
	ProjectID string `json:"project_id" jsonschema:"description=Project the task belongs to"`
	Title     string `json:"title" jsonschema:"description=Short task title"`
	Assignee  string `json:"assignee,omitempty" jsonschema:"description=User to assign the task to"`
	DueAt     string `json:"due_at,omitempty" jsonschema:"description=Due date as an RFC 3339 timestamp"`
}

func (t *CreateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.directory == nil {
		return &agent.ToolResult{Content: "task directory unavailable", IsError: true}, nil
	}
	var input createInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if input.ProjectID == "" {
		return &agent.ToolResult{Content: "project_id is required", IsError: true}, nil
	}
	if input.Title == "" {
		return &agent.ToolResult{Content: "title is required", IsError: true}, nil
	}

	task := &models.Task{
		ID:        uuid.NewString(),
		ProjectID: input.ProjectID,
		Title:     input.Title,
		Status:    models.TaskTodo,
		Assignee:  input.Assignee,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if input.DueAt != "" {
		due, err := time.Parse(time.RFC3339, input.DueAt)
		if err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("invalid due_at: %v", err), IsError: true}, nil
		}
		task.DueAt = due
	}

	rc := agent.RunContextFrom(ctx)
	created, err := t.directory.CreateTask(ctx, rc.TeamID, task)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to create task: %v", err), IsError: true}, nil
	}

	data, err := json.Marshal(created)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return &agent.ToolResult{Content: string(data)}, nil
}
