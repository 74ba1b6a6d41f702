package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowdeck/flowdeck/internal/agent"
)

// Router selects the entry agent for an inbound message. It is itself a
// model call: the arena's agents are presented as the options of a single
// transfer tool, and tool choice is forced so the model cannot answer with
// prose.
type Router struct {
	arena    *Arena
	provider agent.LLMProvider

	// Model used for routing. Routing is a one-shot classification, so a
	// small fast model is the usual choice.
	Model string

	// Fallback is returned when routing fails or names an unknown agent.
	Fallback string
}

// NewRouter creates a router over the arena.
func NewRouter(arena *Arena, provider agent.LLMProvider, model, fallback string) *Router {
	return &Router{arena: arena, provider: provider, Model: model, Fallback: fallback}
}

const routerToolName = "transfer_to_agent"

// routerTool presents the arena as a closed choice. It is never executed;
// the router only reads the forced tool call off the stream.
type routerTool struct {
	arena *Arena
}

func (t *routerTool) Name() string { return routerToolName }

func (t *routerTool) Description() string {
	var sb strings.Builder
	sb.WriteString("Route the conversation to the agent best suited to handle it. Agents:")
	for _, def := range t.arena.Agents() {
		fmt.Fprintf(&sb, "\n- %s: %s", def.Name, def.Description)
	}
	return sb.String()
}

func (t *routerTool) Schema() json.RawMessage {
	names := []string{}
	for _, def := range t.arena.Agents() {
		names = append(names, def.Name)
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{
				"type":        "string",
				"enum":        names,
				"description": "Name of the agent to handle this conversation",
			},
		},
		"required": []string{"agent"},
	}
	data, _ := json.Marshal(schema)
	return data
}

func (t *routerTool) Execute(context.Context, json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "routed"}, nil
}

const routerSystem = `You route incoming messages in a project management workspace to the right specialist agent. Pick exactly one agent using the transfer_to_agent tool. Do not answer the message yourself.`

// Route picks the agent for the message. Failures fall back to the
// configured default rather than surfacing to the caller.
func (r *Router) Route(ctx context.Context, message string) string {
	chunks, err := r.provider.Complete(ctx, &agent.CompletionRequest{
		Model:      r.Model,
		System:     routerSystem,
		Messages:   []agent.CompletionMessage{{Role: "user", Content: message}},
		Tools:      []agent.Tool{&routerTool{arena: r.arena}},
		MaxTokens:  256,
		ToolChoice: routerToolName,
	})
	if err != nil {
		return r.Fallback
	}

	choice := ""
	for chunk := range chunks {
		if chunk.Error != nil {
			return r.Fallback
		}
		if chunk.ToolCall != nil && chunk.ToolCall.Name == routerToolName && choice == "" {
			var input struct {
				Agent string `json:"agent"`
			}
			if json.Unmarshal(chunk.ToolCall.Input, &input) == nil {
				choice = input.Agent
			}
		}
	}
	if _, ok := r.arena.Get(choice); !ok {
		return r.Fallback
	}
	return choice
}
