package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/flowdeck/flowdeck/pkg/models"
)

// SQLiteStore implements Store on SQLite for single-node deployments and
// local development. The modernc driver keeps the build CGO-free.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Cascading deletes depend on the pragma; the driver defaults it off.
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return store, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			team_id TEXT NOT NULL DEFAULT '',
			owner_user_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			last_summary_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			parts TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created
			ON messages (chat_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS working_memory (
			user_id TEXT NOT NULL,
			chat_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, chat_id)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_memory (
			subject TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	var chat models.Chat
	var lastSummary sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, owner_user_id, title, summary, last_summary_at, created_at, updated_at
		FROM chats WHERE id = ?`, chatID,
	).Scan(
		&chat.ID, &chat.TeamID, &chat.OwnerUserID, &chat.Title, &chat.Summary,
		&lastSummary, &chat.CreatedAt, &chat.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if lastSummary.Valid {
		chat.LastSummaryAt = lastSummary.Time
	}
	return &chat, nil
}

func (s *SQLiteStore) GetChats(ctx context.Context, userID, search string, limit int) ([]*models.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(strings.TrimSpace(search))
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, owner_user_id, title, summary, last_summary_at, created_at, updated_at
		FROM chats
		WHERE (? = '' OR owner_user_id = ?)
			AND (? = '' OR lower(title) LIKE '%' || ? || '%' OR lower(summary) LIKE '%' || ? || '%')
		ORDER BY updated_at DESC
		LIMIT ?`,
		userID, userID, needle, needle, needle, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		var chat models.Chat
		var lastSummary sql.NullTime
		if err := rows.Scan(
			&chat.ID, &chat.TeamID, &chat.OwnerUserID, &chat.Title, &chat.Summary,
			&lastSummary, &chat.CreatedAt, &chat.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		if lastSummary.Valid {
			chat.LastSummaryAt = lastSummary.Time
		}
		chats = append(chats, &chat)
	}
	return chats, rows.Err()
}

func (s *SQLiteStore) SaveChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil {
		return ErrChatNotFound
	}
	if strings.TrimSpace(chat.TeamID) == "" {
		return ErrMissingTeam
	}
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	var lastSummary any
	if !chat.LastSummaryAt.IsZero() {
		lastSummary = chat.LastSummaryAt
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, team_id, owner_user_id, title, summary, last_summary_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			team_id = excluded.team_id,
			owner_user_id = excluded.owner_user_id,
			title = CASE WHEN excluded.title = '' THEN chats.title ELSE excluded.title END,
			summary = CASE WHEN excluded.summary = '' THEN chats.summary ELSE excluded.summary END,
			last_summary_at = COALESCE(excluded.last_summary_at, chats.last_summary_at),
			updated_at = excluded.updated_at`,
		chat.ID, chat.TeamID, chat.OwnerUserID, chat.Title, chat.Summary, lastSummary, now, now,
	)
	if err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		chatID, title, now, now,
	)
	if err != nil {
		return fmt.Errorf("update chat title: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrChatNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return nil
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return fmt.Errorf("marshal message parts: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, parts, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, string(msg.Role), string(parts), msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, chatID, userID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, parts, created_at FROM (
			SELECT m.id, m.chat_id, m.role, m.parts, m.created_at,
				CASE WHEN m.role = 'assistant' THEN 0 ELSE 1 END AS role_rank
			FROM messages m
			WHERE m.chat_id = ?
				AND (? = '' OR EXISTS (
					SELECT 1 FROM chats c WHERE c.id = m.chat_id AND c.owner_user_id = ?))
			ORDER BY m.created_at DESC, role_rank DESC
			LIMIT ?
		) ORDER BY created_at ASC, role_rank ASC`,
		chatID, userID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var msg models.Message
		var role, parts string
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &parts, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
			return nil, fmt.Errorf("unmarshal message parts: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) GetWorkingMemory(ctx context.Context, userID, chatID string) (*models.WorkingMemory, error) {
	var wm models.WorkingMemory
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, chat_id, content, updated_at FROM working_memory
		WHERE user_id = ? AND chat_id = ?`, userID, chatID,
	).Scan(&wm.UserID, &wm.ChatID, &wm.Content, &wm.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get working memory: %w", err)
	}
	return &wm, nil
}

func (s *SQLiteStore) UpdateWorkingMemory(ctx context.Context, userID, chatID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO working_memory (user_id, chat_id, content, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET
			content = excluded.content, updated_at = excluded.updated_at`,
		userID, chatID, content, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update working memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetExecutionMemory(ctx context.Context, subject string) (*models.ExecutionMemory, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM execution_memory WHERE subject = ?`, subject,
	).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution memory: %w", err)
	}
	var mem models.ExecutionMemory
	if err := json.Unmarshal([]byte(state), &mem); err != nil {
		return nil, fmt.Errorf("unmarshal execution memory: %w", err)
	}
	return &mem, nil
}

func (s *SQLiteStore) SaveExecutionMemory(ctx context.Context, subject string, mem *models.ExecutionMemory) error {
	state, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("marshal execution memory: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_memory (subject, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (subject) DO UPDATE SET
			state = excluded.state, updated_at = excluded.updated_at`,
		subject, string(state), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save execution memory: %w", err)
	}
	return nil
}
