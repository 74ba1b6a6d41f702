// Package models defines the core data types for Flowdeck.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Chat is a conversation thread owned by a team. It is created lazily on the
// first message; Title and Summary start empty and are refined asynchronously.
type Chat struct {
	ID            string    `json:"id"`
	TeamID        string    `json:"team_id"`
	OwnerUserID   string    `json:"owner_user_id,omitempty"`
	Title         string    `json:"title,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	LastSummaryAt time.Time `json:"last_summary_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PartType discriminates the content parts of a message.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Part is one ordered content element of a message: plain text, a tool call
// issued by the assistant, or the result of executing one.
type Part struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ToolCallPart builds a tool-call content part.
func ToolCallPart(tc ToolCall) Part {
	return Part{Type: PartToolCall, ToolCall: &tc}
}

// ToolResultPart builds a tool-result content part.
func ToolResultPart(tr ToolResult) Part {
	return Part{Type: PartToolResult, ToolResult: &tr}
}

// Message is one entry in a chat transcript. Messages are immutable once
// persisted; only the in-flight assistant message being streamed mutates.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// Text concatenates the text parts of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call parts in order.
func (m *Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Type == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the tool-result parts in order.
func (m *Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range m.Parts {
		if p.Type == PartToolResult && p.ToolResult != nil {
			results = append(results, *p.ToolResult)
		}
	}
	return results
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Before reports the transcript ordering between two messages: oldest first,
// with assistant-authored entries winning ties at identical timestamps so an
// assistant reply stays adjacent to the user turn that produced it.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	if m.Role == other.Role {
		return m.ID < other.ID
	}
	return m.Role == RoleAssistant
}
