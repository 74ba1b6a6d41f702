package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/flowdeck/flowdeck/pkg/models"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB

	stmtGetChat       *sql.Stmt
	stmtSaveChat      *sql.Stmt
	stmtUpdateTitle   *sql.Stmt
	stmtDeleteChat    *sql.Stmt
	stmtSaveMessage   *sql.Stmt
	stmtGetMessages   *sql.Stmt
	stmtGetWorking    *sql.Stmt
	stmtUpsertWorking *sql.Stmt
	stmtGetExec       *sql.Stmt
	stmtUpsertExec    *sql.Stmt
}

// PostgresConfig holds connection settings for the Postgres store.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens a connection pool, ensures the schema, and prepares
// statements.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil || strings.TrimSpace(config.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	defaults := DefaultPostgresConfig()
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = defaults.MaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = defaults.MaxIdleConns
	}
	if config.ConnMaxLifetime <= 0 {
		config.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing connection; used by tests.
func NewPostgresStoreFromDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return store, nil
}

// DB exposes the underlying pool for related stores.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close releases prepared statements and the connection pool.
func (s *PostgresStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtGetChat, s.stmtSaveChat, s.stmtUpdateTitle, s.stmtDeleteChat,
		s.stmtSaveMessage, s.stmtGetMessages, s.stmtGetWorking,
		s.stmtUpsertWorking, s.stmtGetExec, s.stmtUpsertExec,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			team_id TEXT NOT NULL DEFAULT '',
			owner_user_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			last_summary_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			parts JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_created
			ON messages (chat_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS working_memory (
			user_id TEXT NOT NULL,
			chat_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, chat_id)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_memory (
			subject TEXT PRIMARY KEY,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const (
	queryGetChat = `SELECT id, team_id, owner_user_id, title, summary, last_summary_at, created_at, updated_at
		FROM chats WHERE id = $1`

	querySaveChat = `INSERT INTO chats (id, team_id, owner_user_id, title, summary, last_summary_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			team_id = EXCLUDED.team_id,
			owner_user_id = EXCLUDED.owner_user_id,
			title = CASE WHEN EXCLUDED.title = '' THEN chats.title ELSE EXCLUDED.title END,
			summary = CASE WHEN EXCLUDED.summary = '' THEN chats.summary ELSE EXCLUDED.summary END,
			last_summary_at = COALESCE(EXCLUDED.last_summary_at, chats.last_summary_at),
			updated_at = now()`

	queryUpdateTitle = `INSERT INTO chats (id, title, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, updated_at = now()`

	queryDeleteChat = `DELETE FROM chats WHERE id = $1`

	querySaveMessage = `INSERT INTO messages (id, chat_id, role, parts, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	// The inner query takes the most recent rows; the outer reorders them
	// oldest to newest with assistant entries first on timestamp ties.
	queryGetMessages = `SELECT id, chat_id, role, parts, created_at FROM (
			SELECT m.id, m.chat_id, m.role, m.parts, m.created_at,
				CASE WHEN m.role = 'assistant' THEN 0 ELSE 1 END AS role_rank
			FROM messages m
			WHERE m.chat_id = $1
				AND ($2 = '' OR EXISTS (
					SELECT 1 FROM chats c WHERE c.id = m.chat_id AND c.owner_user_id = $2))
			ORDER BY m.created_at DESC, role_rank DESC
			LIMIT $3
		) recent ORDER BY created_at ASC, role_rank ASC`

	queryGetWorking = `SELECT user_id, chat_id, content, updated_at
		FROM working_memory WHERE user_id = $1 AND chat_id = $2`

	queryUpsertWorking = `INSERT INTO working_memory (user_id, chat_id, content, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, chat_id) DO UPDATE SET
			content = EXCLUDED.content, updated_at = now()`

	queryGetExec = `SELECT state FROM execution_memory WHERE subject = $1`

	queryUpsertExec = `INSERT INTO execution_memory (subject, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (subject) DO UPDATE SET
			state = EXCLUDED.state, updated_at = now()`
)

func (s *PostgresStore) prepareStatements() error {
	prepared := []struct {
		target **sql.Stmt
		query  string
	}{
		{&s.stmtGetChat, queryGetChat},
		{&s.stmtSaveChat, querySaveChat},
		{&s.stmtUpdateTitle, queryUpdateTitle},
		{&s.stmtDeleteChat, queryDeleteChat},
		{&s.stmtSaveMessage, querySaveMessage},
		{&s.stmtGetMessages, queryGetMessages},
		{&s.stmtGetWorking, queryGetWorking},
		{&s.stmtUpsertWorking, queryUpsertWorking},
		{&s.stmtGetExec, queryGetExec},
		{&s.stmtUpsertExec, queryUpsertExec},
	}
	for _, p := range prepared {
		stmt, err := s.db.Prepare(p.query)
		if err != nil {
			return fmt.Errorf("prepare %q: %w", p.query[:min(40, len(p.query))], err)
		}
		*p.target = stmt
	}
	return nil
}

func (s *PostgresStore) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	var chat models.Chat
	var lastSummary sql.NullTime
	err := s.stmtGetChat.QueryRowContext(ctx, chatID).Scan(
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

func (s *PostgresStore) GetChats(ctx context.Context, userID, search string, limit int) ([]*models.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, owner_user_id, title, summary, last_summary_at, created_at, updated_at
		FROM chats
		WHERE ($1 = '' OR owner_user_id = $1)
			AND ($2 = '' OR title ILIKE '%' || $2 || '%' OR summary ILIKE '%' || $2 || '%')
		ORDER BY updated_at DESC
		LIMIT $3`,
		userID, strings.TrimSpace(search), limit,
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

func (s *PostgresStore) SaveChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil {
		return ErrChatNotFound
	}
	if strings.TrimSpace(chat.TeamID) == "" {
		return ErrMissingTeam
	}
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	var lastSummary sql.NullTime
	if !chat.LastSummaryAt.IsZero() {
		lastSummary = sql.NullTime{Time: chat.LastSummaryAt, Valid: true}
	}
	_, err := s.stmtSaveChat.ExecContext(ctx,
		chat.ID, chat.TeamID, chat.OwnerUserID, chat.Title, chat.Summary, lastSummary,
	)
	if err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	if _, err := s.stmtUpdateTitle.ExecContext(ctx, chatID, title); err != nil {
		return fmt.Errorf("update chat title: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteChat(ctx context.Context, chatID string) error {
	res, err := s.stmtDeleteChat.ExecContext(ctx, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrChatNotFound
	}
	return nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, msg *models.Message) error {
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
	if _, err := s.stmtSaveMessage.ExecContext(ctx,
		msg.ID, msg.ChatID, string(msg.Role), parts, msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, chatID, userID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.stmtGetMessages.QueryContext(ctx, chatID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		var msg models.Message
		var role string
		var parts []byte
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &parts, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if err := json.Unmarshal(parts, &msg.Parts); err != nil {
			return nil, fmt.Errorf("unmarshal message parts: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) GetWorkingMemory(ctx context.Context, userID, chatID string) (*models.WorkingMemory, error) {
	var wm models.WorkingMemory
	err := s.stmtGetWorking.QueryRowContext(ctx, userID, chatID).Scan(
		&wm.UserID, &wm.ChatID, &wm.Content, &wm.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get working memory: %w", err)
	}
	return &wm, nil
}

func (s *PostgresStore) UpdateWorkingMemory(ctx context.Context, userID, chatID, content string) error {
	if _, err := s.stmtUpsertWorking.ExecContext(ctx, userID, chatID, content); err != nil {
		return fmt.Errorf("update working memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecutionMemory(ctx context.Context, subject string) (*models.ExecutionMemory, error) {
	var state []byte
	err := s.stmtGetExec.QueryRowContext(ctx, subject).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution memory: %w", err)
	}
	var mem models.ExecutionMemory
	if err := json.Unmarshal(state, &mem); err != nil {
		return nil, fmt.Errorf("unmarshal execution memory: %w", err)
	}
	return &mem, nil
}

func (s *PostgresStore) SaveExecutionMemory(ctx context.Context, subject string, mem *models.ExecutionMemory) error {
	state, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("marshal execution memory: %w", err)
	}
	if _, err := s.stmtUpsertExec.ExecContext(ctx, subject, state); err != nil {
		return fmt.Errorf("save execution memory: %w", err)
	}
	return nil
}
