package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/pkg/models"
)

// ListTool lists tasks visible to the requesting team.
type ListTool struct {
	directory Directory
}

// NewListTool creates the list_tasks tool.
func NewListTool(directory Directory) *ListTool {
	return &ListTool{directory: directory}
}

func (t *ListTool) Name() string { return "list_tasks" }

func (t *ListTool) Description() string {
	return "List tasks in the workspace, optionally filtered by project, status, or assignee. Use this before updating tasks to find their IDs."
}

func (t *ListTool) Schema() json.RawMessage {
	return agent.SchemaFor(&listInput{})
}

type listInput struct {
	ProjectID string `json:"project_id,omitempty" jsonschema:"description=Limit results to one project"`
	Status    string `json:"status,omitempty" jsonschema:"enum=todo,enum=in_progress,enum=in_review,enum=done,description=Limit results to one workflow state"`
	Assignee  string `json:"assignee,omitempty" jsonschema:"description=Limit results to tasks assigned to this user"`
	Limit     int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100,description=Maximum number of tasks to return; default 25"`
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.directory == nil {
		return &agent.ToolResult{Content: "task directory unavailable", IsError: true}, nil
	}
	var input listInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	if input.Limit <= 0 {
		input.Limit = 25
	}

	rc := agent.RunContextFrom(ctx)
	tasks, err := t.directory.ListTasks(ctx, rc.TeamID, ListFilter{
		ProjectID: input.ProjectID,
		Status:    models.TaskStatus(input.Status),
		Assignee:  input.Assignee,
		Limit:     input.Limit,
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to list tasks: %v", err), IsError: true}, nil
	}

	data, err := json.Marshal(tasks)
	if err != nil {
		return nil, fmt.Errorf("encode tasks: %w", err)
	}
	return &agent.ToolResult{Content: string(data)}, nil
}
