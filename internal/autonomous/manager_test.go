package autonomous

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/internal/memory"
	"github.com/flowdeck/flowdeck/pkg/models"
)

type scriptedProvider struct {
	mu    sync.Mutex
	calls int
	turns [][]*agent.CompletionChunk
	reqs  []*agent.CompletionRequest
}

func (p *scriptedProvider) Complete(_ context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.calls >= len(p.turns) {
		return nil, fmt.Errorf("unexpected completion call %d", p.calls+1)
	}
	script := p.turns[p.calls]
	p.calls++
	out := make(chan *agent.CompletionChunk, len(script))
	for _, chunk := range script {
		out <- chunk
	}
	close(out)
	return out, nil
}

func (p *scriptedProvider) Name() string          { return "scripted" }
func (p *scriptedProvider) Models() []agent.Model { return nil }
func (p *scriptedProvider) SupportsTools() bool   { return true }

// recordingTool remembers whether it was executed.
type recordingTool struct {
	name     string
	mu       sync.Mutex
	executed bool
}

func (t *recordingTool) Name() string            { return t.name }
func (t *recordingTool) Description() string     { return "records execution" }
func (t *recordingTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *recordingTool) Execute(context.Context, json.RawMessage) (*agent.ToolResult, error) {
	t.mu.Lock()
	t.executed = true
	t.mu.Unlock()
	return &agent.ToolResult{Content: "done"}, nil
}

func (t *recordingTool) wasExecuted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executed
}

func toolCallTurn(id, name, input string) []*agent.CompletionChunk {
	return []*agent.CompletionChunk{{
		ToolCall: &models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)},
	}}
}

func textOnly(text string) []*agent.CompletionChunk {
	return []*agent.CompletionChunk{{Text: text}}
}

func TestTaskCompletedCannotCreateTasks(t *testing.T) {
	createTool := &recordingTool{name: ActionCreateTask}
	listTool := &recordingTool{name: ActionListTasks}

	// The model tries to create a task anyway; dispatch must refuse.
	provider := &scriptedProvider{turns: [][]*agent.CompletionChunk{
		toolCallTurn("c1", ActionCreateTask, `{"project_id":"p1","title":"follow-up"}`),
		textOnly("Recorded the completion."),
	}}
	m := NewManager(memory.NewMemStore(), agent.NewLoop(provider, nil),
		[]agent.Tool{createTool, listTool}, nil)

	result, err := m.HandleTrigger(context.Background(), "team-1", &models.Trigger{
		Type:       models.TriggerTaskCompleted,
		TaskID:     "t1",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}
	if createTool.wasExecuted() {
		t.Fatal("create_task executed under task_completed trigger")
	}
	if result.Response == "" {
		t.Error("run produced no response")
	}

	// The forbidden tool is not even offered to the model.
	for _, tool := range provider.reqs[0].Tools {
		if tool.Name() == ActionCreateTask {
			t.Error("create_task offered to the model under task_completed")
		}
	}
}

func TestMemoryUpdateMergesAndPersists(t *testing.T) {
	store := memory.NewMemStore()
	subject := "task:t1"
	store.SaveExecutionMemory(context.Background(), subject, &models.ExecutionMemory{
		Summary: "old summary",
		Notes:   []string{"existing note"},
	})

	provider := &scriptedProvider{turns: [][]*agent.CompletionChunk{
		toolCallTurn("c1", ActionUpdateMemory,
			`{"summary":"task shipped","notes":["release went out"],"milestone_progress":{"m1":{"status":"done"}}}`),
		textOnly("All recorded."),
	}}
	m := NewManager(store, agent.NewLoop(provider, nil), nil, nil)

	result, err := m.HandleTrigger(context.Background(), "team-1", &models.Trigger{
		Type:       models.TriggerTaskCompleted,
		TaskID:     "t1",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}

	persisted, err := store.GetExecutionMemory(context.Background(), subject)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Summary != "task shipped" {
		t.Errorf("summary = %q", persisted.Summary)
	}
	if len(persisted.Notes) != 2 || persisted.Notes[0] != "existing note" {
		t.Errorf("notes = %v, want append", persisted.Notes)
	}
	if persisted.MilestoneProgress["m1"].Status != "done" {
		t.Errorf("milestone progress = %+v", persisted.MilestoneProgress)
	}

	// The run result reflects the post-update memory.
	if result.Memory.Summary != "task shipped" {
		t.Errorf("in-run memory = %+v", result.Memory)
	}
}

func TestRepeatedTriggerRunsConverge(t *testing.T) {
	store := memory.NewMemStore()
	update := `{"summary":"milestone one done","milestone_progress":{"m1":{"status":"done"}}}`

	runOnce := func() {
		provider := &scriptedProvider{turns: [][]*agent.CompletionChunk{
			toolCallTurn("c1", ActionUpdateMemory, update),
			textOnly("ok"),
		}}
		m := NewManager(store, agent.NewLoop(provider, nil), nil, nil)
		if _, err := m.HandleTrigger(context.Background(), "team-1", &models.Trigger{
			Type:        models.TriggerMilestoneCompleted,
			ProjectID:   "p1",
			MilestoneID: "m1",
			OccurredAt:  time.Now(),
		}); err != nil {
			t.Fatalf("HandleTrigger: %v", err)
		}
	}

	runOnce()
	first, _ := store.GetExecutionMemory(context.Background(), "project:p1")
	runOnce()
	second, _ := store.GetExecutionMemory(context.Background(), "project:p1")

	if second.Summary != first.Summary || len(second.MilestoneProgress) != len(first.MilestoneProgress) {
		t.Errorf("repeat run diverged: %+v vs %+v", first, second)
	}
}

func TestFirstRunStartsEmptyMemory(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*agent.CompletionChunk{
		textOnly("Plan drafted."),
	}}
	m := NewManager(memory.NewMemStore(), agent.NewLoop(provider, nil), nil, nil)

	result, err := m.HandleTrigger(context.Background(), "team-1", &models.Trigger{
		Type:       models.TriggerProjectCreated,
		ProjectID:  "p1",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}
	if result.Memory == nil {
		t.Fatal("result memory is nil")
	}

	// The opening message tells the agent memory is empty.
	first := provider.reqs[0].Messages[0]
	if first.Role != "user" {
		t.Fatalf("first message role = %q", first.Role)
	}
	if !strings.Contains(first.Content, "execution memory is empty") {
		t.Errorf("prompt missing first-run note:\n%s", first.Content)
	}
}

func TestUnknownTriggerRejected(t *testing.T) {
	m := NewManager(memory.NewMemStore(), agent.NewLoop(&scriptedProvider{}, nil), nil, nil)
	if _, err := m.HandleTrigger(context.Background(), "team-1", &models.Trigger{Type: "mystery"}); err == nil {
		t.Fatal("unknown trigger accepted")
	}
}

func TestPermittedMatrix(t *testing.T) {
	if Permitted(models.TriggerTaskCompleted, ActionCreateTask) {
		t.Error("task_completed must not permit create_task")
	}
	if !Permitted(models.TriggerAgentMention, ActionCreateTask) {
		t.Error("agent_mention should permit create_task")
	}
	if Permitted(models.TriggerProjectCreated, ActionUpdateTask) {
		t.Error("project_created should not permit update_task")
	}
	if !Permitted(models.TriggerMilestoneCompleted, ActionCreateTask) {
		t.Error("milestone_completed should permit create_task")
	}
	if Permitted("bogus", ActionListTasks) {
		t.Error("unknown trigger should permit nothing")
	}
	for trigger := range map[models.TriggerType]bool{
		models.TriggerTaskStatusChanged:  true,
		models.TriggerTaskCompleted:      true,
		models.TriggerMilestoneCompleted: true,
		models.TriggerAgentMention:       true,
		models.TriggerProjectCreated:     true,
		models.TriggerManual:             true,
	} {
		if !Permitted(trigger, ActionUpdateMemory) {
			t.Errorf("%s should always permit memory updates", trigger)
		}
	}
}
