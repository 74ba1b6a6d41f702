package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flowdeck/flowdeck/pkg/models"
)

// scriptedProvider replays a fixed sequence of completion streams, one per
// Complete call.
type scriptedProvider struct {
	mu    sync.Mutex
	calls int
	turns [][]*CompletionChunk
	reqs  []*CompletionRequest
}

func (p *scriptedProvider) Complete(_ context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.calls >= len(p.turns) {
		return nil, fmt.Errorf("unexpected completion call %d", p.calls+1)
	}
	script := p.turns[p.calls]
	p.calls++
	out := make(chan *CompletionChunk, len(script))
	for _, chunk := range script {
		out <- chunk
	}
	close(out)
	return out, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return []Model{{ID: "scripted-1"}} }
func (p *scriptedProvider) SupportsTools() bool { return true }

type fakeTool struct {
	name    string
	schema  string
	execute func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "fake tool " + t.name }

func (t *fakeTool) Schema() json.RawMessage {
	if t.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(t.schema)
}

func (t *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	if t.execute != nil {
		return t.execute(ctx, params)
	}
	return &ToolResult{Content: "ok"}, nil
}

func collect(t *testing.T, chunks <-chan *ResponseChunk) []*ResponseChunk {
	t.Helper()
	var out []*ResponseChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-timeout:
			t.Fatalf("stream did not complete, got %d chunks", len(out))
		}
	}
}

func userMessage(text string) *models.Message {
	return &models.Message{
		ID:        "u-" + text,
		Role:      models.RoleUser,
		Parts:     []models.Part{models.TextPart(text)},
		CreatedAt: time.Now(),
	}
}

func TestRunTextOnlyTurn(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{Text: "Hello, "}, {Text: "world."}},
	}}
	loop := NewLoop(provider, nil)

	chunks, err := loop.Run(context.Background(), &TurnRequest{
		Agent:   "assistant",
		History: []*models.Message{userMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collect(t, chunks)

	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	if got[0].Text != "Hello, " || got[1].Text != "world." {
		t.Errorf("unexpected text chunks: %q %q", got[0].Text, got[1].Text)
	}
	done := got[2].Done
	if done == nil {
		t.Fatal("final chunk is not Done")
	}
	if done.Role != models.RoleAssistant {
		t.Errorf("done role = %q, want assistant", done.Role)
	}
	if text := done.Text(); text != "Hello, world." {
		t.Errorf("assembled text = %q", text)
	}
	if got[2].Agent != "assistant" {
		t.Errorf("done agent = %q", got[2].Agent)
	}
}

func TestRunToolCallTurn(t *testing.T) {
	var gotParams json.RawMessage
	tool := &fakeTool{
		name:   "list_tasks",
		schema: `{"type":"object","properties":{"status":{"type":"string"}},"required":["status"]}`,
		execute: func(_ context.Context, params json.RawMessage) (*ToolResult, error) {
			gotParams = params
			return &ToolResult{Content: `[{"id":"t1"}]`}, nil
		},
	}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			{Text: "Checking tasks."},
			{ToolCall: &models.ToolCall{ID: "call-1", Name: "list_tasks", Input: json.RawMessage(`{"status":"todo"}`)}},
		},
		{{Text: "You have one open task."}},
	}}
	loop := NewLoop(provider, nil)

	chunks, err := loop.Run(context.Background(), &TurnRequest{
		Agent:    "assistant",
		History:  []*models.Message{userMessage("what's open?")},
		Registry: NewRegistry([]Tool{tool}),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collect(t, chunks)

	if string(gotParams) != `{"status":"todo"}` {
		t.Errorf("tool received params %s", gotParams)
	}

	var sawCall, sawResult bool
	var done *models.Message
	for _, chunk := range got {
		if chunk.ToolCall != nil {
			sawCall = true
			if chunk.ToolCall.Name != "list_tasks" {
				t.Errorf("tool call name = %q", chunk.ToolCall.Name)
			}
		}
		if chunk.ToolResult != nil {
			sawResult = true
			if chunk.ToolResult.IsError {
				t.Errorf("tool result flagged as error: %s", chunk.ToolResult.Content)
			}
			if chunk.ToolResult.ToolCallID != "call-1" {
				t.Errorf("result tool call id = %q", chunk.ToolResult.ToolCallID)
			}
		}
		if chunk.Done != nil {
			done = chunk.Done
		}
	}
	if !sawCall || !sawResult {
		t.Fatalf("missing tool chunks: call=%v result=%v", sawCall, sawResult)
	}
	if done == nil {
		t.Fatal("no Done chunk")
	}

	// The assembled message carries every part in encounter order: first
	// iteration's text, the call, its result, then the closing text.
	wantTypes := []models.PartType{models.PartText, models.PartToolCall, models.PartToolResult, models.PartText}
	if len(done.Parts) != len(wantTypes) {
		t.Fatalf("done has %d parts, want %d", len(done.Parts), len(wantTypes))
	}
	for i, want := range wantTypes {
		if done.Parts[i].Type != want {
			t.Errorf("part %d type = %q, want %q", i, done.Parts[i].Type, want)
		}
	}

	// The second completion must have seen the tool results.
	if len(provider.reqs) != 2 {
		t.Fatalf("provider called %d times", len(provider.reqs))
	}
	last := provider.reqs[1].Messages[len(provider.reqs[1].Messages)-1]
	if last.Role != "tool" || len(last.ToolResults) != 1 {
		t.Errorf("second request did not end with tool results: %+v", last)
	}
}

func TestRunToolErrorIsScopedToCall(t *testing.T) {
	failing := &fakeTool{
		name: "update_task",
		execute: func(context.Context, json.RawMessage) (*ToolResult, error) {
			return nil, errors.New("task not found")
		},
	}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "call-1", Name: "update_task", Input: json.RawMessage(`{}`)}}},
		{{Text: "I couldn't update that task."}},
	}}
	loop := NewLoop(provider, nil)

	chunks, err := loop.Run(context.Background(), &TurnRequest{
		History:  []*models.Message{userMessage("close t9")},
		Registry: NewRegistry([]Tool{failing}),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collect(t, chunks)

	var errResult *models.ToolResult
	var done *models.Message
	for _, chunk := range got {
		if chunk.Error != nil {
			t.Fatalf("stream surfaced turn-level error: %v", chunk.Error)
		}
		if chunk.ToolResult != nil {
			errResult = chunk.ToolResult
		}
		if chunk.Done != nil {
			done = chunk.Done
		}
	}
	if errResult == nil || !errResult.IsError {
		t.Fatalf("expected error-flagged tool result, got %+v", errResult)
	}
	if done == nil {
		t.Fatal("turn did not complete after tool failure")
	}
}

func TestRunUnknownToolProducesErrorResult(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "call-1", Name: "no_such_tool", Input: json.RawMessage(`{}`)}}},
		{{Text: "done"}},
	}}
	loop := NewLoop(provider, nil)

	chunks, err := loop.Run(context.Background(), &TurnRequest{
		History:  []*models.Message{userMessage("hi")},
		Registry: NewRegistry(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collect(t, chunks)

	var result *models.ToolResult
	for _, chunk := range got {
		if chunk.ToolResult != nil {
			result = chunk.ToolResult
		}
	}
	if result == nil || !result.IsError {
		t.Fatalf("expected error result for unknown tool, got %+v", result)
	}
}

func TestRunMaxTurnsSurfacesPartialAnswer(t *testing.T) {
	tool := &fakeTool{name: "loop_tool"}
	call := func(id string) []*CompletionChunk {
		return []*CompletionChunk{
			{Text: "still working "},
			{ToolCall: &models.ToolCall{ID: id, Name: "loop_tool", Input: json.RawMessage(`{}`)}},
		}
	}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		call("c1"), call("c2"), call("c3"),
	}}
	loop := NewLoop(provider, &LoopConfig{MaxTurns: 2})

	chunks, err := loop.Run(context.Background(), &TurnRequest{
		History:  []*models.Message{userMessage("go")},
		Registry: NewRegistry([]Tool{tool}),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collect(t, chunks)

	last := got[len(got)-1]
	if last.Done == nil {
		t.Fatalf("budget exhaustion must terminate with Done, got %+v", last)
	}
	if last.Done.Text() == "" {
		t.Error("partial answer text missing from Done message")
	}
	if provider.calls != 2 {
		t.Errorf("provider called %d times, want 2", provider.calls)
	}
}

func TestRunStreamErrorTerminates(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{Text: "partial"}, {Error: errors.New("connection reset")}},
	}}
	loop := NewLoop(provider, nil)

	chunks, err := loop.Run(context.Background(), &TurnRequest{
		History: []*models.Message{userMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collect(t, chunks)

	last := got[len(got)-1]
	if last.Error == nil {
		t.Fatalf("expected terminal Error chunk, got %+v", last)
	}
	for _, chunk := range got {
		if chunk.Done != nil {
			t.Error("Error and Done emitted in the same stream")
		}
	}
}

func TestRunNoProvider(t *testing.T) {
	loop := NewLoop(nil, nil)
	if _, err := loop.Run(context.Background(), &TurnRequest{}); !errors.Is(err, ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}

func TestRunToolProgressStreams(t *testing.T) {
	tool := &fakeTool{
		name: "export_report",
		execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			EmitProgress(ctx, "gathering tasks")
			EmitProgress(ctx, "rendering")
			return &ToolResult{Content: "report.pdf"}, nil
		},
	}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "call-1", Name: "export_report", Input: json.RawMessage(`{}`)}}},
		{{Text: "Here is your report."}},
	}}
	loop := NewLoop(provider, nil)

	chunks, err := loop.Run(context.Background(), &TurnRequest{
		History:  []*models.Message{userMessage("export")},
		Registry: NewRegistry([]Tool{tool}),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collect(t, chunks)

	var progress []string
	for _, chunk := range got {
		if chunk.Progress != nil {
			if chunk.Progress.ToolCallID != "call-1" {
				t.Errorf("progress tool call id = %q", chunk.Progress.ToolCallID)
			}
			progress = append(progress, chunk.Progress.Content)
		}
	}
	if len(progress) != 2 || progress[0] != "gathering tasks" || progress[1] != "rendering" {
		t.Errorf("progress chunks = %v", progress)
	}
}

func TestRunRepairsByRepairer(t *testing.T) {
	tool := &fakeTool{
		name:   "create_task",
		schema: `{"type":"object","properties":{"title":{"type":"string"}},"required":["title"]}`,
	}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "call-1", Name: "create_task", Input: json.RawMessage(`{"name":"Ship it"}`)}}},
		{{Text: "Created."}},
	}}
	repairer := repairFunc(func(_ context.Context, call models.ToolCall, _ json.RawMessage, _ error) (*models.ToolCall, error) {
		call.Input = json.RawMessage(`{"title":"Ship it"}`)
		return &call, nil
	})
	loop := NewLoop(provider, &LoopConfig{Repairer: repairer})

	chunks, err := loop.Run(context.Background(), &TurnRequest{
		History:  []*models.Message{userMessage("create a task")},
		Registry: NewRegistry([]Tool{tool}),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collect(t, chunks)

	for _, chunk := range got {
		if chunk.ToolResult != nil && chunk.ToolResult.IsError {
			t.Errorf("repaired call still failed: %s", chunk.ToolResult.Content)
		}
	}
}

type repairFunc func(ctx context.Context, call models.ToolCall, schema json.RawMessage, cause error) (*models.ToolCall, error)

func (f repairFunc) Repair(ctx context.Context, call models.ToolCall, schema json.RawMessage, cause error) (*models.ToolCall, error) {
	return f(ctx, call, schema, cause)
}
