package providers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/pkg/models"
)

func TestConvertOpenAIMessages(t *testing.T) {
	msgs := []agent.CompletionMessage{
		{Role: "user", Content: "list my tasks"},
		{Role: "assistant", Content: "on it", ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "list_tasks", Input: json.RawMessage(`{"status":"todo"}`)},
		}},
		{Role: "tool", ToolResults: []models.ToolResult{
			{ToolCallID: "c1", Content: "[]"},
			{ToolCallID: "c2", Content: "x"},
		}},
	}

	got := convertOpenAIMessages(msgs, "You are a project assistant.")

	// system + user + assistant + one message per tool result
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	if got[0].Role != "system" || got[0].Content != "You are a project assistant." {
		t.Errorf("system message = %+v", got[0])
	}
	if len(got[2].ToolCalls) != 1 || got[2].ToolCalls[0].Function.Name != "list_tasks" {
		t.Errorf("assistant tool calls = %+v", got[2].ToolCalls)
	}
	if got[3].Role != "tool" || got[3].ToolCallID != "c1" {
		t.Errorf("tool result message = %+v", got[3])
	}
}

func TestConvertAnthropicMessagesRejectsBadInput(t *testing.T) {
	_, err := convertAnthropicMessages([]agent.CompletionMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "x", Input: json.RawMessage(`{broken`)},
		}},
	})
	if err == nil {
		t.Fatal("invalid tool input accepted")
	}
}

func TestConvertAnthropicMessagesSkipsSystemAndEmpty(t *testing.T) {
	got, err := convertAnthropicMessages([]agent.CompletionMessage{
		{Role: "system", Content: "handled separately"},
		{Role: "user", Content: "hello"},
		{Role: "assistant"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want only the user turn", len(got))
	}
}

func TestIsRetryable(t *testing.T) {
	if !isRetryable(errors.New("429 too many requests")) {
		t.Error("rate limit should retry")
	}
	if !isRetryable(errors.New("read: connection reset by peer")) {
		t.Error("connection reset should retry")
	}
	if isRetryable(errors.New("401 unauthorized")) {
		t.Error("auth failure should not retry")
	}
	if isRetryable(nil) {
		t.Error("nil should not retry")
	}
}
