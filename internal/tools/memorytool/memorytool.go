// Package memorytool exposes the user's working memory scratchpad to agents.
package memorytool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/internal/memory"
)

// GetTool reads the current working memory for the requesting user.
type GetTool struct {
	store memory.Store
}

// NewGetTool creates the get_working_memory tool.
func NewGetTool(store memory.Store) *GetTool {
	return &GetTool{store: store}
}

func (t *GetTool) Name() string { return "get_working_memory" }

func (t *GetTool) Description() string {
	return "Read your working memory: persistent notes about this user and their preferences, kept across conversations."
}

func (t *GetTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}, "required": []}`)
}

func (t *GetTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	rc := agent.RunContextFrom(ctx)
	wm, err := t.store.GetWorkingMemory(ctx, rc.UserID, rc.ChatID)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to read working memory: %v", err), IsError: true}, nil
	}
	if wm == nil || wm.Content == "" {
		return &agent.ToolResult{Content: "Working memory is empty."}, nil
	}
	return &agent.ToolResult{Content: wm.Content}, nil
}

// UpdateTool replaces the user's working memory. There is a single row per
// user and chat scope; concurrent writers race and the last write wins.
type UpdateTool struct {
	store memory.Store
}

// NewUpdateTool creates the update_working_memory tool.
func NewUpdateTool(store memory.Store) *UpdateTool {
	return &UpdateTool{store: store}
}

func (t *UpdateTool) Name() string { return "update_working_memory" }

func (t *UpdateTool) Description() string {
	return "Replace your working memory with new content. Include everything worth keeping; the previous content is overwritten."
}

func (t *UpdateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {
				"type": "string",
				"description": "The full new working memory content"
			}
		},
		"required": ["content"]
	}`)
}

type updateInput struct {
	Content string `json:"content"`
}

func (t *UpdateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input updateInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	rc := agent.RunContextFrom(ctx)
	if err := t.store.UpdateWorkingMemory(ctx, rc.UserID, rc.ChatID, input.Content); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to update working memory: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: "Working memory updated."}, nil
}
