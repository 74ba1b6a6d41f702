// Package multiagent implements agent selection and handoff on top of the
// turn loop. A request enters through a router agent that picks a specialist,
// and any specialist may transfer the conversation onward through its
// declared handoff targets.
package multiagent

import (
	"context"

	"github.com/flowdeck/flowdeck/internal/agent"
)

// AgentDefinition describes one specialist agent.
type AgentDefinition struct {
	// Name is the unique agent identifier, used in handoff targets and
	// chunk attribution.
	Name string

	// Description explains the agent's specialty. The router's transfer
	// tool embeds it so the model can pick the right target.
	Description string

	// Instructions produces the agent's system prompt. Taking the context
	// lets prompts fold in per-request scope such as locale or time.
	Instructions func(ctx context.Context) string

	// Model overrides the provider's default model when set.
	Model string

	// Tools are the agent's own capabilities. Transfer tools for the
	// handoff targets are appended at dispatch time.
	Tools []agent.Tool

	// HandoffTargets names agents this one may transfer to. Targets are
	// plain strings resolved lazily, so definitions can reference agents
	// registered later and graphs may contain cycles.
	HandoffTargets []string

	// MaxTurns overrides the loop's iteration budget when positive.
	MaxTurns int
}

// SystemPrompt resolves the agent's instructions.
func (d *AgentDefinition) SystemPrompt(ctx context.Context) string {
	if d.Instructions == nil {
		return ""
	}
	return d.Instructions(ctx)
}
