package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/flowdeck/flowdeck/pkg/models"
)

// ExecutorConfig configures the parallel tool executor.
type ExecutorConfig struct {
	// MaxConcurrency limits the number of parallel tool executions.
	// Default: 5
	MaxConcurrency int

	// DefaultTimeout bounds each tool execution.
	// Default: 30s
	DefaultTimeout time.Duration

	// DefaultRetries is the number of retries for failed executions.
	// Default: 1
	DefaultRetries int

	// RetryBackoff is the initial backoff between retries, doubled per
	// attempt. Default: 100ms
	RetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency: 5,
		DefaultTimeout: 30 * time.Second,
		DefaultRetries: 1,
		RetryBackoff:   100 * time.Millisecond,
	}
}

// Executor runs tool calls in parallel with bounded concurrency, retries,
// and panic containment.
type Executor struct {
	config *ExecutorConfig
	sem    chan struct{}
}

// NewExecutor creates an executor. If config is nil, defaults are used.
func NewExecutor(config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	return &Executor{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrency),
	}
}

// ExecutionResult is the outcome of one tool call.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *ToolResult
	Err        error
	Duration   time.Duration
	Attempts   int
}

// ExecuteAll runs the calls in parallel against the registry and returns
// results in input order. The optional decorate hook derives a per-call
// context, used by the loop to install progress sinks. Per-call failures are
// contained in the result; ExecuteAll itself never fails.
func (e *Executor) ExecuteAll(ctx context.Context, registry *Registry, calls []models.ToolCall, decorate func(context.Context, models.ToolCall) context.Context) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			select {
			case e.sem <- struct{}{}:
				defer func() { <-e.sem }()
			case <-ctx.Done():
				results[idx] = &ExecutionResult{
					ToolCallID: calls[idx].ID,
					ToolName:   calls[idx].Name,
					Err:        ctx.Err(),
				}
				return
			}
			callCtx := ctx
			if decorate != nil {
				callCtx = decorate(ctx, calls[idx])
			}
			results[idx] = e.execute(callCtx, registry, calls[idx])
		}(i)
	}
	wg.Wait()
	return results
}

// Execute runs a single call with timeout, retry, and panic recovery.
func (e *Executor) execute(ctx context.Context, registry *Registry, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	res := &ExecutionResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}

	backoff := e.config.RetryBackoff
	for attempt := 0; attempt <= e.config.DefaultRetries; attempt++ {
		res.Attempts = attempt + 1
		result, err := e.executeOnce(ctx, registry, call)
		if err == nil {
			res.Result = result
			res.Err = nil
			break
		}
		res.Err = err
		if ctx.Err() != nil || attempt == e.config.DefaultRetries {
			break
		}
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			attempt = e.config.DefaultRetries
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	res.Duration = time.Since(start)
	return res
}

func (e *Executor) executeOnce(ctx context.Context, registry *Registry, call models.ToolCall) (result *ToolResult, err error) {
	execCtx := ctx
	if e.config.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.config.DefaultTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v\n%s", call.Name, r, debug.Stack())
			result = nil
		}
	}()

	return registry.Execute(execCtx, call.Name, call.Input)
}
