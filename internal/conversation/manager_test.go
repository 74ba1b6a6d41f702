package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/internal/memory"
	"github.com/flowdeck/flowdeck/internal/multiagent"
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

func (p *scriptedProvider) requests() []*agent.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*agent.CompletionRequest(nil), p.reqs...)
}

func newTestManager(t *testing.T, provider agent.LLMProvider, config *Config) (*Manager, *memory.MemStore) {
	t.Helper()
	store := memory.NewMemStore()
	arena := multiagent.NewArena()
	if err := arena.Register(&multiagent.AgentDefinition{
		Name:         "assistant",
		Description:  "general project assistant",
		Instructions: func(context.Context) string { return "You help with projects." },
	}); err != nil {
		t.Fatal(err)
	}
	runner := multiagent.NewRunner(arena, agent.NewLoop(provider, nil), nil)
	if config == nil {
		config = &Config{}
	}
	config.EntryAgent = "assistant"
	return NewManager(store, runner, nil, provider, config), store
}

func drainToDone(t *testing.T, chunks <-chan *agent.ResponseChunk) *models.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	var done *models.Message
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return done
			}
			if chunk.Error != nil {
				t.Fatalf("stream error: %v", chunk.Error)
			}
			if chunk.Done != nil {
				done = chunk.Done
			}
		case <-timeout:
			t.Fatal("stream did not complete")
		}
	}
}

// waitFor polls until the condition holds, for assertions against
// fire-and-forget persistence goroutines.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHandleMessageCreatesChatAndPersistsBothSides(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*agent.CompletionChunk{
		{{Text: "You have three open tasks."}},
	}}
	m, store := newTestManager(t, provider, nil)

	chunks, err := m.HandleMessage(context.Background(), &Request{
		TeamID: "team-1",
		UserID: "alice",
		ChatID: "chat-1",
		Text:   "what's on my plate?",
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	done := drainToDone(t, chunks)
	if done == nil || done.Text() != "You have three open tasks." {
		t.Fatalf("done = %+v", done)
	}
	if done.ChatID != "chat-1" {
		t.Errorf("assistant message chat id = %q", done.ChatID)
	}

	ctx := context.Background()
	if _, err := store.GetChat(ctx, "chat-1"); err != nil {
		t.Fatalf("chat not created: %v", err)
	}
	waitFor(t, func() bool {
		msgs, err := store.GetMessages(ctx, "chat-1", "alice", 10)
		return err == nil && len(msgs) == 2
	})
	msgs, _ := store.GetMessages(ctx, "chat-1", "alice", 10)
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func TestHandleMessageRequiresTeam(t *testing.T) {
	m, _ := newTestManager(t, &scriptedProvider{}, nil)
	if _, err := m.HandleMessage(context.Background(), &Request{UserID: "alice", Text: "hi"}); err != memory.ErrMissingTeam {
		t.Errorf("err = %v, want ErrMissingTeam", err)
	}
}

func TestHandleMessageLoadsPriorHistory(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*agent.CompletionChunk{
		{{Text: "As discussed, the deadline is Friday."}},
	}}
	m, store := newTestManager(t, provider, nil)

	ctx := context.Background()
	store.SaveChat(ctx, &models.Chat{ID: "chat-1", TeamID: "team-1", OwnerUserID: "alice"})
	store.SaveMessage(ctx, &models.Message{
		ID: "m1", ChatID: "chat-1", Role: models.RoleUser,
		Parts:     []models.Part{models.TextPart("when is the deadline?")},
		CreatedAt: time.Now().Add(-time.Minute),
	})

	chunks, err := m.HandleMessage(ctx, &Request{
		TeamID: "team-1", UserID: "alice", ChatID: "chat-1", Text: "remind me again",
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	drainToDone(t, chunks)

	reqs := provider.requests()
	if len(reqs) == 0 {
		t.Fatal("provider never called")
	}
	// Prior history plus the new message reaches the model.
	var sawOld bool
	for _, cm := range reqs[0].Messages {
		if cm.Content == "when is the deadline?" {
			sawOld = true
		}
	}
	if !sawOld {
		t.Error("prior history not submitted to the model")
	}
}

func TestTitleGeneratedOnceAndPreserved(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*agent.CompletionChunk{
		{{Text: "Fixed."}},
		{{Text: "Login bug fix"}},
		{{Text: "It is deployed now."}},
	}}
	m, store := newTestManager(t, provider, &Config{TitleModel: "fast-model"})

	ctx := context.Background()
	chunks, err := m.HandleMessage(ctx, &Request{
		TeamID: "team-1", UserID: "alice", ChatID: "chat-1", Text: "fix the login bug",
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	drainToDone(t, chunks)

	waitFor(t, func() bool {
		chat, err := store.GetChat(ctx, "chat-1")
		return err == nil && chat.Title == "Login bug fix"
	})

	// A later exchange must not erase or regenerate the title.
	chunks, err = m.HandleMessage(ctx, &Request{
		TeamID: "team-1", UserID: "alice", ChatID: "chat-1", Text: "is it live?",
	})
	if err != nil {
		t.Fatalf("second HandleMessage: %v", err)
	}
	drainToDone(t, chunks)

	waitFor(t, func() bool {
		msgs, err := store.GetMessages(ctx, "chat-1", "alice", 10)
		return err == nil && len(msgs) == 4
	})
	chat, err := store.GetChat(ctx, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if chat.Title != "Login bug fix" {
		t.Errorf("title = %q, want preserved title", chat.Title)
	}
}

func TestHandleMessageRejectsForeignChat(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*agent.CompletionChunk{
		{{Text: "ok"}},
	}}
	m, store := newTestManager(t, provider, nil)
	ctx := context.Background()

	if err := store.SaveChat(ctx, &models.Chat{
		ID:          "chat-1",
		TeamID:      "team-1",
		OwnerUserID: "alice",
		CreatedAt:   time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	_, err := m.HandleMessage(ctx, &Request{
		TeamID: "team-1", UserID: "bob", ChatID: "chat-1", Text: "hi",
	})
	if err == nil {
		t.Fatal("another user's chat was opened")
	}
}

func TestHandleMessageStreamNotBlockedBySideChannels(t *testing.T) {
	// Title completion hangs; the response stream must still terminate.
	block := make(chan struct{})
	provider := &blockingTitleProvider{
		inner: &scriptedProvider{turns: [][]*agent.CompletionChunk{
			{{Text: "Done."}},
		}},
		block: block,
	}
	m, _ := newTestManager(t, provider, &Config{TitleModel: "fast-model"})

	start := time.Now()
	chunks, err := m.HandleMessage(context.Background(), &Request{
		TeamID: "team-1", UserID: "alice", ChatID: "chat-1", Text: "hello",
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	drainToDone(t, chunks)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stream blocked on title generation for %v", elapsed)
	}
	close(block)
}

// blockingTitleProvider serves the first completion normally and parks any
// further ones until released.
type blockingTitleProvider struct {
	inner *scriptedProvider
	block chan struct{}
	first bool
	mu    sync.Mutex
}

func (p *blockingTitleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	isFirst := !p.first
	p.first = true
	p.mu.Unlock()
	if isFirst {
		return p.inner.Complete(ctx, req)
	}
	<-p.block
	return nil, fmt.Errorf("released")
}

func (p *blockingTitleProvider) Name() string          { return "blocking" }
func (p *blockingTitleProvider) Models() []agent.Model { return nil }
func (p *blockingTitleProvider) SupportsTools() bool   { return true }
