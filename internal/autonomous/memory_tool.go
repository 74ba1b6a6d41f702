package autonomous

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/internal/memory"
	"github.com/flowdeck/flowdeck/pkg/models"
)

// executionMemoryTool lets the agent fold findings into the subject's
// durable execution memory mid-run. Every call re-reads the persisted value,
// merges, and persists, so calling it twice with the same update is safe and
// concurrent runs against the same subject converge instead of clobbering.
type executionMemoryTool struct {
	store   memory.Store
	subject string

	mu      sync.Mutex
	current *models.ExecutionMemory
}

func newExecutionMemoryTool(store memory.Store, subject string, initial *models.ExecutionMemory) *executionMemoryTool {
	return &executionMemoryTool{store: store, subject: subject, current: initial.Clone()}
}

func (t *executionMemoryTool) Name() string { return ActionUpdateMemory }

func (t *executionMemoryTool) Description() string {
	return "Record durable findings about this task or project: updated summary or plan, new notes, decisions with reasons, blockers, and milestone progress. Fields you omit keep their stored values; notes and decisions append."
}

func (t *executionMemoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"summary": {
				"type": "string",
				"description": "Replacement one-paragraph summary of the current state"
			},
			"plan": {
				"type": "string",
				"description": "Replacement plan for what happens next"
			},
			"notes": {
				"type": "array",
				"items": {"type": "string"},
				"description": "New notes to append"
			},
			"decisions": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"decision": {"type": "string"},
						"reason": {"type": "string"}
					},
					"required": ["decision"]
				},
				"description": "New decisions to append to the decision log"
			},
			"blockers": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"description": {"type": "string"},
						"task_id": {"type": "string"},
						"status": {"type": "string", "enum": ["open", "resolved"]}
					},
					"required": ["description", "status"]
				},
				"description": "Blockers to record; a matching description updates that blocker in place"
			},
			"milestone_progress": {
				"type": "object",
				"additionalProperties": {
					"type": "object",
					"properties": {
						"status": {"type": "string"},
						"notes": {"type": "string"}
					},
					"required": ["status"]
				},
				"description": "Per-milestone status keyed by milestone ID"
			}
		},
		"required": []
	}`)
}

type memoryUpdateInput struct {
	Summary   string   `json:"summary"`
	Plan      string   `json:"plan"`
	Notes     []string `json:"notes"`
	Decisions []struct {
		Decision string `json:"decision"`
		Reason   string `json:"reason"`
	} `json:"decisions"`
	Blockers          []models.Blocker                  `json:"blockers"`
	MilestoneProgress map[string]models.MilestoneStatus `json:"milestone_progress"`
}

func (t *executionMemoryTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input memoryUpdateInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}

	incoming := &models.ExecutionMemory{
		Summary:           input.Summary,
		Plan:              input.Plan,
		Notes:             input.Notes,
		Blockers:          input.Blockers,
		MilestoneProgress: input.MilestoneProgress,
	}
	now := agent.RunContextFrom(ctx).Now
	if now.IsZero() {
		now = time.Now()
	}
	for _, d := range input.Decisions {
		incoming.Decisions = append(incoming.Decisions, models.Decision{
			Date:     now,
			Decision: d.Decision,
			Reason:   d.Reason,
		})
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Merge against the persisted value, not the in-run copy, so parallel
	// runs on the same subject fold together.
	persisted, err := t.store.GetExecutionMemory(ctx, t.subject)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to load execution memory: %v", err), IsError: true}, nil
	}
	merged := persisted.Clone()
	merged.Merge(incoming)

	if err := t.store.SaveExecutionMemory(ctx, t.subject, merged); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to save execution memory: %v", err), IsError: true}, nil
	}
	t.current = merged

	return &agent.ToolResult{Content: "Execution memory updated."}, nil
}

// snapshot returns the in-run view of the memory after any updates.
func (t *executionMemoryTool) snapshot() *models.ExecutionMemory {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Clone()
}
