package multiagent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/pkg/models"
)

func routingArena() *Arena {
	arena := NewArena()
	arena.Register(&AgentDefinition{Name: "tasks", Description: "manages tasks and to-dos"})
	arena.Register(&AgentDefinition{Name: "reporting", Description: "builds status reports"})
	return arena
}

func TestRouterPicksToolChosenAgent(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*agent.CompletionChunk{
		{{ToolCall: &models.ToolCall{
			ID:    "c1",
			Name:  routerToolName,
			Input: json.RawMessage(`{"agent":"reporting"}`),
		}}},
	}}
	router := NewRouter(routingArena(), provider, "fast-model", "tasks")

	got := router.Route(context.Background(), "how did the team do this week?")
	if got != "reporting" {
		t.Errorf("Route = %q, want reporting", got)
	}

	req := provider.reqs[0]
	if req.ToolChoice != routerToolName {
		t.Errorf("tool choice = %q, routing must force the transfer tool", req.ToolChoice)
	}
	if req.Model != "fast-model" {
		t.Errorf("model = %q", req.Model)
	}
}

func TestRouterFallsBack(t *testing.T) {
	cases := map[string][][]*agent.CompletionChunk{
		"no tool call":  {{{Text: "I think tasks"}}},
		"unknown agent": {{{ToolCall: &models.ToolCall{ID: "c1", Name: routerToolName, Input: json.RawMessage(`{"agent":"ghost"}`)}}}},
		"bad json":      {{{ToolCall: &models.ToolCall{ID: "c1", Name: routerToolName, Input: json.RawMessage(`{`)}}}},
	}
	for name, turns := range cases {
		router := NewRouter(routingArena(), &scriptedProvider{turns: turns}, "m", "tasks")
		if got := router.Route(context.Background(), "hello"); got != "tasks" {
			t.Errorf("%s: Route = %q, want fallback", name, got)
		}
	}
}

func TestRouterToolSchemaEnumeratesAgents(t *testing.T) {
	tool := &routerTool{arena: routingArena()}

	var schema struct {
		Properties struct {
			Agent struct {
				Enum []string `json:"enum"`
			} `json:"agent"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if len(schema.Properties.Agent.Enum) != 2 {
		t.Errorf("enum = %v", schema.Properties.Agent.Enum)
	}
	if !strings.Contains(tool.Description(), "reporting: builds status reports") {
		t.Errorf("description missing agent listing:\n%s", tool.Description())
	}
}
