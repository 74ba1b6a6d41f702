package agent

import (
	"context"
	"time"
)

// RunContext carries caller identity and request scope into tool executions.
// It rides the context, never model-visible content.
type RunContext struct {
	TeamID string
	UserID string
	ChatID string
	Locale string
	Now    time.Time
}

type runContextKey struct{}

// WithRunContext attaches run scope to the context.
func WithRunContext(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, runContextKey{}, rc)
}

// RunContextFrom extracts the run scope, or returns an empty one.
func RunContextFrom(ctx context.Context) *RunContext {
	if rc, ok := ctx.Value(runContextKey{}).(*RunContext); ok && rc != nil {
		return rc
	}
	return &RunContext{Now: time.Now()}
}

// ProgressFunc receives incremental output pushed by a running tool.
type ProgressFunc func(content string)

type progressKey struct{}

// withProgress installs a progress sink for the duration of one tool call.
func withProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// EmitProgress pushes an incremental chunk from inside a tool execution.
// It is a no-op when the caller did not install a sink, so tools can emit
// unconditionally.
func EmitProgress(ctx context.Context, content string) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok && fn != nil {
		fn(content)
	}
}
