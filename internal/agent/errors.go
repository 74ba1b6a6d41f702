package agent

import "errors"

var (
	// ErrNoProvider indicates the loop was constructed without a provider.
	ErrNoProvider = errors.New("no LLM provider configured")

	// ErrMaxTurns indicates the loop hit its iteration budget.
	ErrMaxTurns = errors.New("max turns reached")

	// ErrGenerateTimeout indicates the blocking wrapper timed out before the
	// stream completed.
	ErrGenerateTimeout = errors.New("generate timed out waiting for stream completion")

	// ErrNoFinalMessage indicates the stream drained without ever producing
	// a terminal message.
	ErrNoFinalMessage = errors.New("stream ended without a final message")

	// ErrUnrepairableToolCall indicates the repair step could not produce a
	// valid call from a malformed tool invocation.
	ErrUnrepairableToolCall = errors.New("tool call could not be repaired")
)
