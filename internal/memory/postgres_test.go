package memory

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/flowdeck/flowdeck/pkg/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	for _, q := range []string{
		queryGetChat, querySaveChat, queryUpdateTitle, queryDeleteChat,
		querySaveMessage, queryGetMessages, queryGetWorking,
		queryUpsertWorking, queryGetExec, queryUpsertExec,
	} {
		mock.ExpectPrepare(regexp.QuoteMeta(q))
	}
	store, err := NewPostgresStoreFromDB(db)
	if err != nil {
		t.Fatalf("NewPostgresStoreFromDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store, mock
}

func TestPostgresStore_SaveChatUpsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(querySaveChat)).
		WithArgs("c1", "team-1", "alice", "Fix login bug", "", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveChat(context.Background(), &models.Chat{
		ID:          "c1",
		TeamID:      "team-1",
		OwnerUserID: "alice",
		Title:       "Fix login bug",
	})
	if err != nil {
		t.Fatalf("SaveChat: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresStore_SaveChatRequiresTeam(t *testing.T) {
	store, _ := newMockStore(t)
	err := store.SaveChat(context.Background(), &models.Chat{ID: "c1"})
	if !errors.Is(err, ErrMissingTeam) {
		t.Errorf("SaveChat without team = %v, want ErrMissingTeam", err)
	}
}

func TestPostgresStore_GetChatNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(queryGetChat)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "team_id", "owner_user_id", "title", "summary",
			"last_summary_at", "created_at", "updated_at",
		}))

	_, err := store.GetChat(context.Background(), "missing")
	if !errors.Is(err, ErrChatNotFound) {
		t.Errorf("GetChat = %v, want ErrChatNotFound", err)
	}
}

func TestPostgresStore_GetWorkingMemoryMiss(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(queryGetWorking)).
		WithArgs("alice", "").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "chat_id", "content", "updated_at"}))

	wm, err := store.GetWorkingMemory(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("GetWorkingMemory: %v", err)
	}
	if wm != nil {
		t.Errorf("missing row = %+v, want nil", wm)
	}
}

func TestPostgresStore_GetMessagesDecodesParts(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "chat_id", "role", "parts", "created_at"}).
		AddRow("m1", "c1", "user", []byte(`[{"type":"text","text":"hi"}]`), ts).
		AddRow("m2", "c1", "assistant", []byte(`[{"type":"tool_call","tool_call":{"id":"tc1","name":"list_tasks","input":{}}}]`), ts)
	mock.ExpectQuery(regexp.QuoteMeta(queryGetMessages)).
		WithArgs("c1", "", 20).
		WillReturnRows(rows)

	msgs, err := store.GetMessages(context.Background(), "c1", "", 20)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("message count = %d, want 2", len(msgs))
	}
	if msgs[0].Text() != "hi" {
		t.Errorf("text part = %q, want %q", msgs[0].Text(), "hi")
	}
	calls := msgs[1].ToolCalls()
	if len(calls) != 1 || calls[0].Name != "list_tasks" {
		t.Errorf("tool calls = %+v, want one list_tasks call", calls)
	}
}

func TestPostgresStore_SaveExecutionMemory(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(queryUpsertExec)).
		WithArgs("task:t1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveExecutionMemory(context.Background(), "task:t1", &models.ExecutionMemory{
		Summary: "in progress",
	})
	if err != nil {
		t.Fatalf("SaveExecutionMemory: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
