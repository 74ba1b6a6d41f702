package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/flowdeck/flowdeck/internal/observability"
	"github.com/flowdeck/flowdeck/pkg/models"
)

// LoopConfig configures the turn loop.
type LoopConfig struct {
	// MaxTurns limits tool-use iterations per request.
	// Default: 10
	MaxTurns int

	// MaxTokens is the default max tokens for model responses.
	// Default: 4096
	MaxTokens int

	// HistoryLimit truncates the submitted history to the most recent N
	// messages. Default: 20
	HistoryLimit int

	// ExecutorConfig configures the parallel tool executor.
	ExecutorConfig *ExecutorConfig

	// Repairer fixes malformed tool invocations. Optional; without one,
	// invalid calls fail directly as scoped error results.
	Repairer Repairer

	// Logger receives loop diagnostics.
	Logger *slog.Logger
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxTurns:       10,
		MaxTokens:      4096,
		HistoryLimit:   20,
		ExecutorConfig: DefaultExecutorConfig(),
		Logger:         slog.Default(),
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaults.MaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	if cfg.ExecutorConfig == nil {
		cfg.ExecutorConfig = defaults.ExecutorConfig
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &cfg
}

// chunkBufferSize is the outbound stream buffer. The producer still blocks
// when a slow consumer falls this far behind.
const chunkBufferSize = 64

// MaxResponseTextSize caps accumulated response text per turn (1MB).
const MaxResponseTextSize = 1 << 20

// TurnRequest describes one agent turn to execute.
type TurnRequest struct {
	// Agent labels emitted chunks with the producing agent definition.
	Agent string

	// Model and System configure the completion.
	Model  string
	System string

	// History is the chat transcript oldest to newest, including the
	// inbound message as the last entry. The loop truncates and
	// reconciles it before submission.
	History []*models.Message

	// Registry is the per-request tool set.
	Registry *Registry

	// MaxTurns overrides the configured iteration budget when positive.
	MaxTurns int
}

// Loop executes single agent turns against a provider, streaming output.
type Loop struct {
	provider LLMProvider
	executor *Executor
	config   *LoopConfig
}

// NewLoop creates a turn loop. If config is nil, defaults are used.
func NewLoop(provider LLMProvider, config *LoopConfig) *Loop {
	config = sanitizeLoopConfig(config)
	return &Loop{
		provider: provider,
		executor: NewExecutor(config.ExecutorConfig),
		config:   config,
	}
}

// turnState accumulates one turn's conversation and output parts.
type turnState struct {
	messages []CompletionMessage
	parts    []models.Part
	text     strings.Builder
}

// Run executes one agent turn and streams results. The returned channel is
// closed when the turn completes; the final chunk is either Done (carrying
// the canonical assistant message) or Error.
func (l *Loop) Run(ctx context.Context, req *TurnRequest) (<-chan *ResponseChunk, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}
	if req == nil {
		return nil, fmt.Errorf("turn request is nil")
	}
	registry := req.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = l.config.MaxTurns
	}

	chunks := make(chan *ResponseChunk, chunkBufferSize)

	go func() {
		defer close(chunks)
		start := time.Now()

		ctx, span := observability.Tracer().Start(ctx, "agent.turn")
		span.SetAttributes(attribute.String("agent.name", req.Agent))
		defer span.End()

		history := truncateHistory(req.History, l.config.HistoryLimit)
		history = reconcileMessages(history)

		state := &turnState{messages: toCompletionMessages(history)}
		chatID := RunContextFrom(ctx).ChatID

		outcome := "completed"
		for turn := 0; turn < maxTurns; turn++ {
			select {
			case <-ctx.Done():
				chunks <- &ResponseChunk{Agent: req.Agent, Error: ctx.Err()}
				observability.TurnsTotal.WithLabelValues(req.Agent, "cancelled").Inc()
				return
			default:
			}

			toolCalls, err := l.streamPhase(ctx, req, registry, state, chunks)
			if err != nil {
				// Stream-level failure terminates with a single error chunk.
				l.config.Logger.Error("model stream failed",
					"agent", req.Agent, "chat_id", chatID, "turn", turn, "error", err)
				chunks <- &ResponseChunk{Agent: req.Agent, Error: err}
				observability.TurnsTotal.WithLabelValues(req.Agent, "stream_error").Inc()
				return
			}

			if len(toolCalls) == 0 {
				l.finish(req, state, chunks)
				observability.TurnsTotal.WithLabelValues(req.Agent, outcome).Inc()
				observability.TurnDuration.WithLabelValues(req.Agent).Observe(time.Since(start).Seconds())
				return
			}

			results := l.executeTools(ctx, req, registry, toolCalls, chunks)

			state.messages = append(state.messages, CompletionMessage{
				Role:        "tool",
				ToolResults: results,
			})
			for i := range results {
				state.parts = append(state.parts, models.ToolResultPart(results[i]))
			}
		}

		// Budget exhausted: surface the partial answer rather than loop.
		l.config.Logger.Warn("turn budget exhausted",
			"agent", req.Agent, "chat_id", chatID, "max_turns", maxTurns)
		l.finish(req, state, chunks)
		observability.TurnsTotal.WithLabelValues(req.Agent, "max_turns").Inc()
		observability.TurnDuration.WithLabelValues(req.Agent).Observe(time.Since(start).Seconds())
	}()

	return chunks, nil
}

// streamPhase submits the conversation to the model, forwarding text chunks
// and collecting tool calls. It also appends the assistant entry to the
// conversation for the next iteration.
func (l *Loop) streamPhase(ctx context.Context, req *TurnRequest, registry *Registry, state *turnState, chunks chan<- *ResponseChunk) ([]models.ToolCall, error) {
	completion, err := l.provider.Complete(ctx, &CompletionRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  state.messages,
		Tools:     registry.Tools(),
		MaxTokens: l.config.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	var toolCalls []models.ToolCall
	var text strings.Builder
	for chunk := range completion {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			if state.text.Len()+len(chunk.Text) > MaxResponseTextSize {
				return nil, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
			}
			text.WriteString(chunk.Text)
			state.text.WriteString(chunk.Text)
			chunks <- &ResponseChunk{Agent: req.Agent, Text: chunk.Text}
		}
		if chunk.ToolCall != nil {
			tc := *chunk.ToolCall
			if tc.ID == "" {
				tc.ID = uuid.NewString()
			}
			toolCalls = append(toolCalls, tc)
			chunks <- &ResponseChunk{Agent: req.Agent, ToolCall: &tc}
		}
	}

	if text.Len() > 0 {
		state.parts = append(state.parts, models.TextPart(text.String()))
	}
	for i := range toolCalls {
		state.parts = append(state.parts, models.ToolCallPart(toolCalls[i]))
	}
	state.messages = append(state.messages, CompletionMessage{
		Role:      "assistant",
		Content:   text.String(),
		ToolCalls: toolCalls,
	})
	return toolCalls, nil
}

// executeTools validates, repairs, and executes the turn's tool calls,
// streaming results as they land. Results come back in call order.
func (l *Loop) executeTools(ctx context.Context, req *TurnRequest, registry *Registry, toolCalls []models.ToolCall, chunks chan<- *ResponseChunk) []models.ToolResult {
	results := make([]models.ToolResult, len(toolCalls))
	runnable := make([]models.ToolCall, 0, len(toolCalls))
	runnableIdx := make([]int, 0, len(toolCalls))

	for i := range toolCalls {
		call, err := l.validOrRepaired(ctx, registry, toolCalls[i])
		if err != nil {
			results[i] = models.ToolResult{
				ToolCallID: toolCalls[i].ID,
				Content:    fmt.Sprintf("invalid tool call: %v", err),
				IsError:    true,
			}
			observability.ToolExecutions.WithLabelValues(toolCalls[i].Name, "invalid").Inc()
			continue
		}
		runnable = append(runnable, *call)
		runnableIdx = append(runnableIdx, i)
	}

	execResults := l.executor.ExecuteAll(ctx, registry, runnable, func(callCtx context.Context, call models.ToolCall) context.Context {
		return withProgress(callCtx, func(content string) {
			chunks <- &ResponseChunk{Agent: req.Agent, Progress: &ToolProgress{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    content,
			}}
		})
	})

	for i, r := range execResults {
		idx := runnableIdx[i]
		call := runnable[i]
		switch {
		case r == nil || (r.Err == nil && r.Result == nil):
			results[idx] = models.ToolResult{
				ToolCallID: call.ID,
				Content:    "tool execution failed",
				IsError:    true,
			}
			observability.ToolExecutions.WithLabelValues(call.Name, "failed").Inc()
		case r.Err != nil:
			// A failing tool is scoped to its call; the turn continues.
			l.config.Logger.Warn("tool execution failed",
				"tool", call.Name, "tool_call_id", call.ID, "error", r.Err)
			results[idx] = models.ToolResult{
				ToolCallID: call.ID,
				Content:    r.Err.Error(),
				IsError:    true,
			}
			observability.ToolExecutions.WithLabelValues(call.Name, "failed").Inc()
		default:
			results[idx] = models.ToolResult{
				ToolCallID: call.ID,
				Content:    r.Result.Content,
				IsError:    r.Result.IsError,
			}
			status := "succeeded"
			if r.Result.IsError {
				status = "failed"
			}
			observability.ToolExecutions.WithLabelValues(call.Name, status).Inc()
		}
	}

	for i := range results {
		chunks <- &ResponseChunk{Agent: req.Agent, ToolResult: &results[i]}
	}
	return results
}

// validOrRepaired returns a dispatchable call, invoking the repair step on
// schema validation failure.
func (l *Loop) validOrRepaired(ctx context.Context, registry *Registry, call models.ToolCall) (*models.ToolCall, error) {
	err := registry.Validate(call.Name, call.Input)
	if err == nil {
		return &call, nil
	}
	if l.config.Repairer == nil {
		return nil, err
	}

	var schema []byte
	if tool, ok := registry.Get(call.Name); ok {
		schema = tool.Schema()
	}
	repaired, repairErr := l.config.Repairer.Repair(ctx, call, schema, err)
	if repairErr != nil {
		return nil, fmt.Errorf("%v (repair failed: %w)", err, repairErr)
	}
	if vErr := registry.Validate(repaired.Name, repaired.Input); vErr != nil {
		return nil, fmt.Errorf("%v (repaired call still invalid: %w)", err, vErr)
	}
	return repaired, nil
}

// finish assembles and emits the terminal Done chunk.
func (l *Loop) finish(req *TurnRequest, state *turnState, chunks chan<- *ResponseChunk) {
	msg := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Parts:     state.parts,
		CreatedAt: time.Now(),
	}
	chunks <- &ResponseChunk{Agent: req.Agent, Done: msg}
}
