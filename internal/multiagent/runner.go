package multiagent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/internal/observability"
	"github.com/flowdeck/flowdeck/pkg/models"
)

// RunnerConfig configures handoff execution.
type RunnerConfig struct {
	// MaxHandoffs bounds agent-to-agent transfers per request. Cyclic
	// handoff graphs are legal; this is what guarantees termination.
	// Default: 5
	MaxHandoffs int

	Logger *slog.Logger
}

// Runner drives a conversation across the arena. It runs the active agent's
// turn loop, watches for transfer requests, and re-enters the loop as the
// target agent until an agent finishes without handing off.
type Runner struct {
	arena  *Arena
	loop   *agent.Loop
	config *RunnerConfig
}

// NewRunner creates a handoff runner over the arena.
func NewRunner(arena *Arena, loop *agent.Loop, config *RunnerConfig) *Runner {
	if config == nil {
		config = &RunnerConfig{}
	}
	cfg := *config
	if cfg.MaxHandoffs <= 0 {
		cfg.MaxHandoffs = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{arena: arena, loop: loop, config: &cfg}
}

// Run executes the conversation starting at the named agent. The returned
// stream carries every agent's chunks, labeled by agent name; only the final
// agent's Done chunk is terminal.
func (r *Runner) Run(ctx context.Context, entry string, history []*models.Message) (<-chan *agent.ResponseChunk, error) {
	def, ok := r.arena.Get(entry)
	if !ok {
		return nil, fmt.Errorf("unknown agent: %s", entry)
	}

	out := make(chan *agent.ResponseChunk, 16)
	go func() {
		defer close(out)
		current := def
		turn := append([]*models.Message(nil), history...)

		for hop := 0; ; hop++ {
			state := &handoffState{}
			targets, missing := r.arena.Targets(current)
			if len(missing) > 0 {
				r.config.Logger.Warn("unresolvable handoff targets",
					"agent", current.Name, "targets", missing)
			}

			// On the last permitted hop the transfer tools are withheld,
			// which forces the active agent to answer.
			var registry *agent.Registry
			if hop < r.config.MaxHandoffs {
				registry = agent.NewRegistry(current.Tools, transferTools(targets, state))
			} else {
				registry = agent.NewRegistry(current.Tools)
			}

			chunks, err := r.loop.Run(ctx, &agent.TurnRequest{
				Agent:    current.Name,
				System:   current.SystemPrompt(ctx),
				Model:    current.Model,
				History:  turn,
				Registry: registry,
				MaxTurns: current.MaxTurns,
			})
			if err != nil {
				out <- &agent.ResponseChunk{Agent: current.Name, Error: err}
				return
			}

			var done *models.Message
			for chunk := range chunks {
				if chunk.Error != nil {
					out <- chunk
					return
				}
				if chunk.Done != nil {
					done = chunk.Done
					continue
				}
				out <- chunk
			}
			if done == nil {
				out <- &agent.ResponseChunk{Agent: current.Name, Error: agent.ErrNoFinalMessage}
				return
			}

			target, reason := state.requested()
			if target == "" {
				out <- &agent.ResponseChunk{Agent: current.Name, Done: done}
				return
			}

			next, ok := r.arena.Get(target)
			if !ok {
				// The transfer tool only exists for resolved targets, so
				// this means the arena changed mid-run.
				out <- &agent.ResponseChunk{Agent: current.Name, Done: done}
				return
			}

			r.config.Logger.Info("agent handoff",
				"from", current.Name, "to", target, "reason", reason, "hop", hop+1)
			observability.HandoffsTotal.WithLabelValues(current.Name, target).Inc()

			turn = append(turn, done)
			current = next
		}
	}()
	return out, nil
}
