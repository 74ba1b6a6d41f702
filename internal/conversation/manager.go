// Package conversation manages chat lifecycle around the agent runtime:
// chat creation, history loading, message persistence, and the background
// title and summary generation that keeps the chat list readable.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/internal/memory"
	"github.com/flowdeck/flowdeck/internal/multiagent"
	"github.com/flowdeck/flowdeck/pkg/models"
)

// Config configures the conversation manager.
type Config struct {
	// HistoryLimit is how many persisted messages are loaded per turn.
	// Default: 20
	HistoryLimit int

	// EntryAgent is used when routing is disabled or fails.
	EntryAgent string

	// TitleModel generates chat titles. Empty disables title generation.
	TitleModel string

	// SummarizeEvery triggers a rolling summary after this many new
	// messages since the last one. Zero disables summarization.
	SummarizeEvery int

	Logger *slog.Logger
}

// Manager drives one conversational exchange end to end.
type Manager struct {
	store    memory.Store
	runner   *multiagent.Runner
	router   *multiagent.Router
	provider agent.LLMProvider
	config   *Config
}

// NewManager creates a conversation manager. The router may be nil, in which
// case every message goes to the configured entry agent.
func NewManager(store memory.Store, runner *multiagent.Runner, router *multiagent.Router, provider agent.LLMProvider, config *Config) *Manager {
	if config == nil {
		config = &Config{}
	}
	cfg := *config
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{store: store, runner: runner, router: router, provider: provider, config: &cfg}
}

// Request is one inbound user message.
type Request struct {
	TeamID string
	UserID string

	// ChatID may name an existing chat or a new one; missing chats are
	// created on first use.
	ChatID string

	Text string
}

// HandleMessage runs the full exchange for one user message and streams the
// response. The user message and the final assistant message are persisted
// on independent goroutines; persistence failures are logged, never allowed
// to interrupt the live stream.
func (m *Manager) HandleMessage(ctx context.Context, req *Request) (<-chan *agent.ResponseChunk, error) {
	if req.TeamID == "" {
		return nil, memory.ErrMissingTeam
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("message text is empty")
	}
	if req.ChatID == "" {
		req.ChatID = uuid.NewString()
	}

	chat, err := m.loadOrCreateChat(ctx, req)
	if err != nil {
		return nil, err
	}

	history, err := m.store.GetMessages(ctx, chat.ID, req.UserID, m.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		Role:      models.RoleUser,
		Parts:     []models.Part{models.TextPart(req.Text)},
		CreatedAt: time.Now(),
	}
	go m.persist(chat.ID, userMsg)

	history = append(history, userMsg)

	entry := m.config.EntryAgent
	if m.router != nil {
		entry = m.router.Route(ctx, req.Text)
	}

	runCtx := agent.WithRunContext(ctx, &agent.RunContext{
		TeamID: req.TeamID,
		UserID: req.UserID,
		ChatID: chat.ID,
		Now:    time.Now(),
	})
	chunks, err := m.runner.Run(runCtx, entry, history)
	if err != nil {
		return nil, err
	}

	out := make(chan *agent.ResponseChunk, 16)
	go func() {
		defer close(out)
		for chunk := range chunks {
			if chunk.Done != nil {
				assistant := chunk.Done
				assistant.ChatID = chat.ID
				go m.persist(chat.ID, assistant)
				go m.afterTurn(chat, req, assistant)
			}
			out <- chunk
		}
	}()
	return out, nil
}

func (m *Manager) loadOrCreateChat(ctx context.Context, req *Request) (*models.Chat, error) {
	chat, err := m.store.GetChat(ctx, req.ChatID)
	if err == nil {
		if chat.OwnerUserID != "" && req.UserID != "" && chat.OwnerUserID != req.UserID {
			return nil, fmt.Errorf("chat %s belongs to another user", req.ChatID)
		}
		return chat, nil
	}
	if err != memory.ErrChatNotFound {
		return nil, fmt.Errorf("load chat: %w", err)
	}

	chat = &models.Chat{
		ID:          req.ChatID,
		TeamID:      req.TeamID,
		OwnerUserID: req.UserID,
		CreatedAt:   time.Now(),
	}
	if err := m.store.SaveChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// persist writes a message on its own context so a cancelled request does
// not lose the transcript.
func (m *Manager) persist(chatID string, msg *models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.SaveMessage(ctx, msg); err != nil {
		m.config.Logger.Error("failed to persist message",
			"chat_id", chatID, "message_id", msg.ID, "role", msg.Role, "error", err)
	}
}

// afterTurn runs the fire-and-forget side channels: title generation for
// untitled chats and rolling summarization. Both are best effort.
func (m *Manager) afterTurn(chat *models.Chat, req *Request, assistant *models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if chat.Title == "" && m.config.TitleModel != "" {
		if title := m.generateTitle(ctx, req.Text, assistant.Text()); title != "" {
			if err := m.store.UpdateChatTitle(ctx, chat.ID, title); err != nil {
				m.config.Logger.Warn("failed to save chat title", "chat_id", chat.ID, "error", err)
			}
		}
	}

	if m.config.SummarizeEvery > 0 {
		m.maybeSummarize(ctx, chat, req)
	}
}
