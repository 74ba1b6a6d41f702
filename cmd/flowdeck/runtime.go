// runtime.go assembles the running system from a loaded configuration:
// store, provider, tools, agent arena, conversation manager, and the
// autonomous trigger manager.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/internal/agent/providers"
	"github.com/flowdeck/flowdeck/internal/autonomous"
	"github.com/flowdeck/flowdeck/internal/config"
	"github.com/flowdeck/flowdeck/internal/conversation"
	"github.com/flowdeck/flowdeck/internal/memory"
	"github.com/flowdeck/flowdeck/internal/multiagent"
	"github.com/flowdeck/flowdeck/internal/observability"
	"github.com/flowdeck/flowdeck/internal/toolserver"
	"github.com/flowdeck/flowdeck/internal/tools/memorytool"
	"github.com/flowdeck/flowdeck/internal/tools/tasks"
)

// runtime holds the wired components for one process.
type runtime struct {
	config        *config.Config
	store         memory.Store
	provider      agent.LLMProvider
	conversations *conversation.Manager
	autonomous    *autonomous.Manager
	scheduler     *autonomous.Scheduler

	shutdown []func(context.Context) error
}

func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	rt := &runtime{config: cfg}

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Observability.Tracing)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	rt.shutdown = append(rt.shutdown, shutdownTracing)

	store, err := buildStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	rt.store = store

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	rt.provider = provider

	tools, err := buildTools(ctx, cfg, store, logger)
	if err != nil {
		return nil, err
	}

	arena := multiagent.NewArena()
	for _, def := range cfg.Agents {
		instructions := def.Instructions
		if err := arena.Register(&multiagent.AgentDefinition{
			Name:           def.Name,
			Description:    def.Description,
			Instructions:   func(context.Context) string { return instructions },
			Model:          def.Model,
			Tools:          pickTools(tools, def.Tools),
			HandoffTargets: def.HandoffTargets,
			MaxTurns:       def.MaxTurns,
		}); err != nil {
			return nil, fmt.Errorf("register agent %s: %w", def.Name, err)
		}
	}

	loop := agent.NewLoop(provider, &agent.LoopConfig{
		HistoryLimit: cfg.Conversation.HistoryLimit,
		Logger:       logger,
	})
	runner := multiagent.NewRunner(arena, loop, &multiagent.RunnerConfig{Logger: logger})

	var router *multiagent.Router
	if len(cfg.Agents) > 1 {
		router = multiagent.NewRouter(arena, provider, "", cfg.Conversation.EntryAgent)
	}

	rt.conversations = conversation.NewManager(store, runner, router, provider, &conversation.Config{
		HistoryLimit:   cfg.Conversation.HistoryLimit,
		EntryAgent:     cfg.Conversation.EntryAgent,
		TitleModel:     cfg.Conversation.TitleModel,
		SummarizeEvery: cfg.Conversation.SummarizeEvery,
		Logger:         logger,
	})

	if cfg.Autonomous.Enabled {
		manager := autonomous.NewManager(store, loop, allTools(tools), &autonomous.Config{
			Model:      cfg.Autonomous.Model,
			MaxTurns:   cfg.Autonomous.MaxTurns,
			RunTimeout: cfg.Conversation.GenerateTimeout,
			Logger:     logger,
		})
		rt.autonomous = manager

		scheduler := autonomous.NewScheduler(manager, logger)
		for _, s := range cfg.Autonomous.Schedules {
			if _, err := scheduler.Add(s.Cron, s.TeamID, s.ProjectID, s.Note); err != nil {
				return nil, fmt.Errorf("schedule %q: %w", s.Cron, err)
			}
		}
		rt.scheduler = scheduler
	}

	return rt, nil
}

func (rt *runtime) close(ctx context.Context) {
	if rt.scheduler != nil {
		rt.scheduler.Stop()
	}
	for i := len(rt.shutdown) - 1; i >= 0; i-- {
		if err := rt.shutdown[i](ctx); err != nil {
			slog.Warn("shutdown step failed", "error", err)
		}
	}
	if closer, ok := rt.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("store close failed", "error", err)
		}
	}
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func buildStore(cfg config.StoreConfig) (memory.Store, error) {
	switch cfg.Backend {
	case "memory":
		return memory.NewMemStore(), nil
	case "sqlite":
		return memory.NewSQLiteStore(cfg.DSN)
	case "postgres":
		pgCfg := memory.DefaultPostgresConfig()
		pgCfg.DSN = cfg.DSN
		return memory.NewPostgresStore(pgCfg)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func buildProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	name := cfg.DefaultProvider
	p, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("no provider configured")
	}
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			MaxRetries:   p.MaxRetries,
			DefaultModel: p.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(p.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// buildTools assembles the built-in tool set plus any remote tool servers,
// keyed by tool name for per-agent selection.
func buildTools(ctx context.Context, cfg *config.Config, store memory.Store, logger *slog.Logger) (map[string]agent.Tool, error) {
	directory := tasks.NewMemDirectory()
	out := map[string]agent.Tool{}
	for _, tool := range []agent.Tool{
		tasks.NewListTool(directory),
		tasks.NewCreateTool(directory),
		tasks.NewUpdateTool(directory),
		memorytool.NewGetTool(store),
		memorytool.NewUpdateTool(store),
	} {
		out[tool.Name()] = tool
	}

	if len(cfg.ToolServers) == 0 {
		return out, nil
	}

	tokenStore := toolserver.NewFileTokenStore(tokenPath())
	var clients []*toolserver.Client
	for _, ts := range cfg.ToolServers {
		var tokens *toolserver.TokenSource
		if ts.Auth != nil {
			tokens = toolserver.NewTokenSource(tokenStore, ts.ID, ts.Auth.ClientID, ts.Auth.ClientSecret, ts.Auth.TokenURL)
		}
		client := toolserver.NewClient(toolserver.ServerConfig{
			ID:      ts.ID,
			URL:     ts.URL,
			Timeout: ts.Timeout,
			Headers: ts.Headers,
		}, tokens, logger)
		if err := client.Connect(ctx); err != nil {
			// A down tool server degrades capability, not the runtime.
			logger.Warn("tool server unavailable", "id", ts.ID, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	for _, tool := range toolserver.BridgeTools(clients...) {
		out[tool.Name()] = tool
	}
	return out, nil
}

func tokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowdeck-tokens.json"
	}
	return filepath.Join(home, ".flowdeck", "tokens.json")
}

// pickTools resolves an agent's tool names. An empty list grants every tool.
func pickTools(all map[string]agent.Tool, names []string) []agent.Tool {
	if len(names) == 0 {
		return allTools(all)
	}
	var out []agent.Tool
	for _, name := range names {
		if tool, ok := all[name]; ok {
			out = append(out, tool)
		} else {
			slog.Warn("agent references unknown tool", "tool", name)
		}
	}
	return out
}

func allTools(all map[string]agent.Tool) []agent.Tool {
	out := make([]agent.Tool, 0, len(all))
	for _, tool := range all {
		out = append(out, tool)
	}
	return out
}
