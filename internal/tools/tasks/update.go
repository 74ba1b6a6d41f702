package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/pkg/models"
)

// UpdateTool changes a task's title, status, or assignee.
type UpdateTool struct {
	directory Directory
}

// NewUpdateTool creates the update_task tool.
func NewUpdateTool(directory Directory) *UpdateTool {
	return &UpdateTool{directory: directory}
}

func (t *UpdateTool) Name() string { return "update_task" }

func (t *UpdateTool) Description() string {
	return "Update an existing task. Only the provided fields change; omitted fields keep their current values."
}

func (t *UpdateTool) Schema() json.RawMessage {
	return agent.SchemaFor(&updateInput{})
}

type updateInput struct {
	TaskID   string  `json:"task_id" jsonschema:"description=ID of the task to update"`
	Title    *string `json:"title,omitempty" jsonschema:"description=New task title"`
	Status   *string `json:"status,omitempty" jsonschema:"enum=todo,enum=in_progress,enum=in_review,enum=done,description=New workflow state"`
	Assignee *string `json:"assignee,omitempty" jsonschema:"description=New assignee; empty string to unassign"`
}

func (t *UpdateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.directory == nil {
		return &agent.ToolResult{Content: "task directory unavailable", IsError: true}, nil
	}
	var input updateInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if input.TaskID == "" {
		return &agent.ToolResult{Content: "task_id is required", IsError: true}, nil
	}
	if input.Title == nil && input.Status == nil && input.Assignee == nil {
		return &agent.ToolResult{Content: "nothing to update", IsError: true}, nil
	}

	update := TaskUpdate{Title: input.Title, Assignee: input.Assignee}
	if input.Status != nil {
		status := models.TaskStatus(*input.Status)
		if !validStatus(status) {
			return &agent.ToolResult{Content: fmt.Sprintf("invalid status: %s", *input.Status), IsError: true}, nil
		}
		update.Status = &status
	}

	rc := agent.RunContextFrom(ctx)
	updated, err := t.directory.UpdateTask(ctx, rc.TeamID, input.TaskID, update)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to update task: %v", err), IsError: true}, nil
	}

	data, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return &agent.ToolResult{Content: string(data)}, nil
}
