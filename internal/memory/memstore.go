package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowdeck/flowdeck/pkg/models"
)

// maxMessagesPerChat bounds messages stored per chat to prevent unbounded
// growth in long-lived processes. Oldest entries are trimmed past the limit.
const maxMessagesPerChat = 1000

// MemStore is an in-memory Store for tests and local runs.
type MemStore struct {
	mu       sync.RWMutex
	chats    map[string]*models.Chat
	messages map[string][]*models.Message
	working  map[string]*models.WorkingMemory
	execmem  map[string]*models.ExecutionMemory
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		chats:    map[string]*models.Chat{},
		messages: map[string][]*models.Message{},
		working:  map[string]*models.WorkingMemory{},
		execmem:  map[string]*models.ExecutionMemory{},
	}
}

func (s *MemStore) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	return cloneChat(chat), nil
}

func (s *MemStore) GetChats(ctx context.Context, userID, search string, limit int) ([]*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]*models.Chat, 0, len(s.chats))
	for _, chat := range s.chats {
		if userID != "" && chat.OwnerUserID != userID {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(chat.Title), needle) &&
			!strings.Contains(strings.ToLower(chat.Summary), needle) {
			continue
		}
		out = append(out, cloneChat(chat))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) SaveChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil {
		return ErrChatNotFound
	}
	if strings.TrimSpace(chat.TeamID) == "" {
		return ErrMissingTeam
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := cloneChat(chat)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	now := time.Now()
	if existing, ok := s.chats[clone.ID]; ok {
		// An absent incoming title or summary keeps the stored one.
		if clone.Title == "" {
			clone.Title = existing.Title
		}
		if clone.Summary == "" {
			clone.Summary = existing.Summary
			clone.LastSummaryAt = existing.LastSummaryAt
		}
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now

	chat.ID = clone.ID
	chat.CreatedAt = clone.CreatedAt
	chat.UpdatedAt = clone.UpdatedAt
	s.chats[clone.ID] = clone
	return nil
}

func (s *MemStore) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	chat, ok := s.chats[chatID]
	if !ok {
		s.chats[chatID] = &models.Chat{
			ID:        chatID,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return nil
	}
	chat.Title = title
	chat.UpdatedAt = now
	return nil
}

func (s *MemStore) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return ErrChatNotFound
	}
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	return nil
}

func (s *MemStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
		msg.ID = clone.ID
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
		msg.CreatedAt = clone.CreatedAt
	}
	msgs := append(s.messages[clone.ChatID], clone)
	if len(msgs) > maxMessagesPerChat {
		msgs = msgs[len(msgs)-maxMessagesPerChat:]
	}
	s.messages[clone.ChatID] = msgs
	return nil
}

func (s *MemStore) GetMessages(ctx context.Context, chatID, userID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if userID != "" {
		chat, ok := s.chats[chatID]
		if !ok || chat.OwnerUserID != userID {
			return nil, ErrChatNotFound
		}
	}

	msgs := s.messages[chatID]
	sorted := make([]*models.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Before(sorted[j])
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	out := make([]*models.Message, len(sorted))
	for i, m := range sorted {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

func (s *MemStore) GetWorkingMemory(ctx context.Context, userID, chatID string) (*models.WorkingMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wm, ok := s.working[workingKey(userID, chatID)]
	if !ok {
		return nil, nil
	}
	clone := *wm
	return &clone, nil
}

func (s *MemStore) UpdateWorkingMemory(ctx context.Context, userID, chatID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.working[workingKey(userID, chatID)] = &models.WorkingMemory{
		UserID:    userID,
		ChatID:    chatID,
		Content:   content,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (s *MemStore) GetExecutionMemory(ctx context.Context, subject string) (*models.ExecutionMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mem, ok := s.execmem[subject]
	if !ok {
		return nil, nil
	}
	return mem.Clone(), nil
}

func (s *MemStore) SaveExecutionMemory(ctx context.Context, subject string, mem *models.ExecutionMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.execmem[subject] = mem.Clone()
	return nil
}

func workingKey(userID, chatID string) string {
	return userID + ":" + chatID
}

func cloneChat(c *models.Chat) *models.Chat {
	clone := *c
	return &clone
}

func cloneMessage(m *models.Message) *models.Message {
	clone := *m
	if m.Parts != nil {
		clone.Parts = make([]models.Part, len(m.Parts))
		copy(clone.Parts, m.Parts)
	}
	return &clone
}
