// Package agent implements the tool-calling turn loop: model streaming, tool
// call reconciliation and repair, parallel tool execution, and the blocking
// generate wrapper over the streaming primitive.
package agent

import (
	"context"
	"encoding/json"

	"github.com/flowdeck/flowdeck/pkg/models"
)

// LLMProvider is the contract implemented by model backends.
type LLMProvider interface {
	// Complete sends a completion request and streams response chunks.
	// The returned channel is closed when the stream ends.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the stable lowercase provider identifier.
	Name() string

	// Models returns the models this provider can serve.
	Models() []Model

	// SupportsTools reports whether the provider supports tool calling.
	SupportsTools() bool
}

// Model describes an available LLM.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// CompletionRequest is a provider-agnostic completion request.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	Tools     []Tool
	MaxTokens int

	// ToolChoice forces the model to call the named tool. Used by the
	// handoff router, which constrains output to a single transfer action.
	ToolChoice string
}

// CompletionMessage is one model-turn entry. Role is one of user, assistant,
// or tool.
type CompletionMessage struct {
	Role        string
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// CompletionChunk is one streamed unit of provider output.
type CompletionChunk struct {
	Text     string
	ToolCall *models.ToolCall
	Done     bool
	Error    error
}

// Tool is an executable capability exposed to the model.
//
// A tool may push incremental progress before its final result by calling
// EmitProgress with the execution context; consumers see zero or more
// progress chunks followed by exactly one terminal result.
type Tool interface {
	// Name returns the tool name for model function calling.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema for the tool's input.
	Schema() json.RawMessage

	// Execute runs the tool. Errors are surfaced to the model as error
	// results scoped to the call, never as turn failures.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the terminal output of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolProgress is an incremental output chunk pushed by a running tool.
type ToolProgress struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
}

// ResponseChunk is one unit of the runtime's outbound stream. Exactly one of
// the fields is set. A Done or Error chunk is terminal.
type ResponseChunk struct {
	// Agent identifies which agent definition produced the chunk.
	Agent string `json:"agent,omitempty"`

	Text       string             `json:"text,omitempty"`
	ToolCall   *models.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`
	Progress   *ToolProgress      `json:"progress,omitempty"`

	// Done carries the fully assembled assistant message once the turn
	// completes. Its content is canonical for persistence.
	Done *models.Message `json:"done,omitempty"`

	Error error `json:"-"`
}
