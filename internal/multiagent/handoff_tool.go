package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flowdeck/flowdeck/internal/agent"
)

// handoffState records a transfer requested during one agent's run. The
// runner reads it after the agent's stream completes.
type handoffState struct {
	mu     sync.Mutex
	target string
	reason string
}

func (s *handoffState) request(target, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// First transfer wins when the model issues several in one turn.
	if s.target == "" {
		s.target = target
		s.reason = reason
	}
}

func (s *handoffState) requested() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target, s.reason
}

// transferTool is the synthetic tool backing one handoff edge. Executing it
// does not run the target; it records the request for the runner and tells
// the model the transfer is underway.
type transferTool struct {
	target *AgentDefinition
	state  *handoffState
}

func transferToolName(target string) string {
	return "transfer_to_" + target
}

func (t *transferTool) Name() string {
	return transferToolName(t.target.Name)
}

func (t *transferTool) Description() string {
	return fmt.Sprintf(
		"Transfer the conversation to the %s agent. %s Use this when the request falls under that agent's specialty rather than yours.",
		t.target.Name, t.target.Description,
	)
}

func (t *transferTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"reason": {
				"type": "string",
				"description": "Why this conversation belongs with the target agent"
			}
		},
		"required": []
	}`)
}

func (t *transferTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Reason string `json:"reason"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("invalid transfer parameters: %v", err), IsError: true}, nil
		}
	}
	t.state.request(t.target.Name, input.Reason)
	return &agent.ToolResult{
		Content: fmt.Sprintf("Transferring the conversation to %s.", t.target.Name),
	}, nil
}

// transferTools builds one transfer tool per resolved handoff target.
func transferTools(targets []*AgentDefinition, state *handoffState) []agent.Tool {
	tools := make([]agent.Tool, 0, len(targets))
	for _, target := range targets {
		tools = append(tools, &transferTool{target: target, state: state})
	}
	return tools
}
