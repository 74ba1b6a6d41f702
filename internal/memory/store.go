// Package memory implements the persistence contract for chats, messages,
// working memory, and autonomous execution memory.
package memory

import (
	"context"
	"errors"

	"github.com/flowdeck/flowdeck/pkg/models"
)

var (
	// ErrChatNotFound is returned when a chat id does not resolve.
	ErrChatNotFound = errors.New("chat not found")

	// ErrMissingTeam is returned when a chat is saved without an owning team.
	// This indicates a data-integrity violation, not a transient condition.
	ErrMissingTeam = errors.New("chat has no team")
)

// Store is the persistence contract consumed by the conversation lifecycle
// manager and the autonomous execution memory manager. Implementations must
// keep each write atomic at the row level; callers coordinate nothing else.
type Store interface {
	// GetChat returns the chat or ErrChatNotFound.
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)

	// GetChats lists chats, optionally filtered by owner and a title/summary
	// substring search, newest first.
	GetChats(ctx context.Context, userID, search string, limit int) ([]*models.Chat, error)

	// SaveChat inserts or updates a chat. An empty incoming Title or Summary
	// never erases a previously stored value.
	SaveChat(ctx context.Context, chat *models.Chat) error

	// UpdateChatTitle sets the title, creating the chat record if it does not
	// yet exist.
	UpdateChatTitle(ctx context.Context, chatID, title string) error

	// DeleteChat removes the chat and cascades to its messages.
	DeleteChat(ctx context.Context, chatID string) error

	// SaveMessage persists one message.
	SaveMessage(ctx context.Context, msg *models.Message) error

	// GetMessages returns up to limit of the most recent messages for a chat,
	// ordered oldest to newest. Ties at identical timestamps order
	// assistant-authored entries first. A non-empty userID restricts the read
	// to chats owned by that user.
	GetMessages(ctx context.Context, chatID, userID string, limit int) ([]*models.Message, error)

	// GetWorkingMemory returns the working memory row for the user (and
	// optional chat scope), or nil when none exists.
	GetWorkingMemory(ctx context.Context, userID, chatID string) (*models.WorkingMemory, error)

	// UpdateWorkingMemory upserts the singleton working memory row.
	UpdateWorkingMemory(ctx context.Context, userID, chatID, content string) error

	// GetExecutionMemory returns the persisted execution memory for a subject,
	// or nil on first run.
	GetExecutionMemory(ctx context.Context, subject string) (*models.ExecutionMemory, error)

	// SaveExecutionMemory persists the merged execution memory for a subject.
	SaveExecutionMemory(ctx context.Context, subject string, mem *models.ExecutionMemory) error
}
