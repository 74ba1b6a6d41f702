package agent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/flowdeck/flowdeck/pkg/models"
)

func callPart(id, name string) models.Part {
	return models.ToolCallPart(models.ToolCall{ID: id, Name: name, Input: json.RawMessage(`{}`)})
}

func resultPart(id, content string) models.Part {
	return models.ToolResultPart(models.ToolResult{ToolCallID: id, Content: content})
}

func TestReconcileDropsDuplicateToolCalls(t *testing.T) {
	history := []*models.Message{
		{ID: "m1", Role: models.RoleAssistant, Parts: []models.Part{
			models.TextPart("checking"),
			callPart("call-1", "list_tasks"),
		}},
		{ID: "m2", Role: models.RoleAssistant, Parts: []models.Part{
			callPart("call-1", "list_tasks"), // replay after reload
			resultPart("call-1", "[]"),
		}},
		{ID: "m3", Role: models.RoleAssistant, Parts: []models.Part{
			resultPart("call-1", "[]"),
			resultPart("call-2", "done"),
		}},
	}

	got := reconcileMessages(history)

	var callCount, resultCount int
	for _, msg := range got {
		for _, part := range msg.Parts {
			if part.Type == models.PartToolCall && part.ToolCall.ID == "call-1" {
				callCount++
			}
			if part.Type == models.PartToolResult && part.ToolResult.ToolCallID == "call-1" {
				resultCount++
			}
		}
	}
	if callCount != 1 {
		t.Errorf("call-1 appears %d times as a call, want 1", callCount)
	}
	if resultCount != 1 {
		t.Errorf("call-1 appears %d times as a result, want 1", resultCount)
	}

	// First occurrence stays in place: the call stays in m1, the result
	// stays in m2.
	if got[0].ID != "m1" || got[0].Parts[1].ToolCall == nil {
		t.Error("first occurrence of call-1 not kept in m1")
	}
	if got[1].ID != "m2" || len(got[1].Parts) != 1 || got[1].Parts[0].ToolResult == nil {
		t.Errorf("m2 should retain only the first result, got %+v", got[1].Parts)
	}
}

func TestReconcileDropsEmptiedMessages(t *testing.T) {
	history := []*models.Message{
		{ID: "m1", Role: models.RoleAssistant, Parts: []models.Part{callPart("c1", "x")}},
		{ID: "m2", Role: models.RoleAssistant, Parts: []models.Part{callPart("c1", "x")}},
	}
	got := reconcileMessages(history)
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("expected only m1 to survive, got %d messages", len(got))
	}
}

func TestReconcileDoesNotMutateInput(t *testing.T) {
	dup := &models.Message{ID: "m2", Role: models.RoleAssistant, Parts: []models.Part{
		callPart("c1", "x"),
		models.TextPart("keep"),
	}}
	history := []*models.Message{
		{ID: "m1", Role: models.RoleAssistant, Parts: []models.Part{callPart("c1", "x")}},
		dup,
	}
	reconcileMessages(history)
	if len(dup.Parts) != 2 {
		t.Error("reconcile mutated the original message")
	}
}

func TestTruncateHistoryKeepsMostRecent(t *testing.T) {
	history := make([]*models.Message, 30)
	for i := range history {
		history[i] = &models.Message{
			ID:        string(rune('a' + i)),
			Role:      models.RoleUser,
			CreatedAt: time.Unix(int64(i), 0),
		}
	}
	got := truncateHistory(history, 20)
	if len(got) != 20 {
		t.Fatalf("len = %d, want 20", len(got))
	}
	if got[0] != history[10] || got[19] != history[29] {
		t.Error("truncation did not keep the newest messages")
	}
	if len(truncateHistory(history[:5], 20)) != 5 {
		t.Error("short history should be untouched")
	}
}

func TestToCompletionMessagesExpandsToolResults(t *testing.T) {
	history := []*models.Message{
		{Role: models.RoleUser, Parts: []models.Part{models.TextPart("list my tasks")}},
		{Role: models.RoleAssistant, Parts: []models.Part{
			models.TextPart("on it"),
			callPart("c1", "list_tasks"),
			resultPart("c1", "[]"),
		}},
	}
	got := toCompletionMessages(history)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Role != "user" || got[0].Content != "list my tasks" {
		t.Errorf("first entry = %+v", got[0])
	}
	if got[1].Role != "assistant" || len(got[1].ToolCalls) != 1 {
		t.Errorf("assistant entry = %+v", got[1])
	}
	if got[2].Role != "tool" || len(got[2].ToolResults) != 1 {
		t.Errorf("tool entry = %+v", got[2])
	}
}
