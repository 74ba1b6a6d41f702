// Package config loads the FlowDeck runtime configuration from YAML.
// Environment references in the file ($VAR or ${VAR}) are expanded before
// parsing, so secrets stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowdeck/flowdeck/internal/observability"
)

// Config is the root configuration structure.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Store         StoreConfig         `yaml:"store"`
	Conversation  ConversationConfig  `yaml:"conversation"`
	Agents        []AgentConfig       `yaml:"agents"`
	Autonomous    AutonomousConfig    `yaml:"autonomous"`
	ToolServers   []ToolServerConfig  `yaml:"tool_servers"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type LLMConfig struct {
	// DefaultProvider selects which configured provider serves requests
	// that do not name one. Must match a Providers key.
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	MaxRetries   int    `yaml:"max_retries"`
}

type StoreConfig struct {
	// Backend is one of memory, sqlite, postgres.
	Backend string `yaml:"backend"`

	// DSN is the postgres connection string or the sqlite file path.
	DSN string `yaml:"dsn"`
}

type ConversationConfig struct {
	EntryAgent      string        `yaml:"entry_agent"`
	HistoryLimit    int           `yaml:"history_limit"`
	TitleModel      string        `yaml:"title_model"`
	SummarizeEvery  int           `yaml:"summarize_every"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"`
}

type AgentConfig struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Instructions   string   `yaml:"instructions"`
	Model          string   `yaml:"model"`
	Tools          []string `yaml:"tools"`
	HandoffTargets []string `yaml:"handoff_targets"`
	MaxTurns       int      `yaml:"max_turns"`
}

type AutonomousConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Model     string           `yaml:"model"`
	MaxTurns  int              `yaml:"max_turns"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

// ScheduleConfig fires a manual trigger on a cron expression.
type ScheduleConfig struct {
	Cron      string `yaml:"cron"`
	TeamID    string `yaml:"team_id"`
	ProjectID string `yaml:"project_id"`
	Note      string `yaml:"note"`
}

type ToolServerConfig struct {
	ID      string            `yaml:"id"`
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
	Auth    *ToolServerAuth   `yaml:"auth"`
}

type ToolServerAuth struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

type ObservabilityConfig struct {
	MetricsAddr string                      `yaml:"metrics_addr"`
	Tracing     observability.TracingConfig `yaml:"tracing"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, expands, parses, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes raw YAML into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Conversation.HistoryLimit <= 0 {
		c.Conversation.HistoryLimit = 20
	}
	if c.Conversation.GenerateTimeout <= 0 {
		c.Conversation.GenerateTimeout = 10 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.LLM.DefaultProvider == "" && len(c.LLM.Providers) == 1 {
		for name := range c.LLM.Providers {
			c.LLM.DefaultProvider = name
		}
	}
}

// Validate rejects configurations that cannot produce a working runtime.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store: %s backend requires a dsn", c.Store.Backend)
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	if len(c.LLM.Providers) > 0 {
		if c.LLM.DefaultProvider == "" {
			return fmt.Errorf("llm: default_provider is required when multiple providers are configured")
		}
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			return fmt.Errorf("llm: default_provider %q is not configured", c.LLM.DefaultProvider)
		}
	}
	for name, p := range c.LLM.Providers {
		switch name {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("llm: unknown provider %q", name)
		}
		if p.APIKey == "" {
			return fmt.Errorf("llm: provider %s has no api_key", name)
		}
	}

	names := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agents: agent with empty name")
		}
		if names[a.Name] {
			return fmt.Errorf("agents: duplicate agent %q", a.Name)
		}
		names[a.Name] = true
	}
	// Handoff targets may reference agents defined later in the list, so
	// resolution is checked only after all names are collected.
	for _, a := range c.Agents {
		for _, target := range a.HandoffTargets {
			if !names[target] {
				return fmt.Errorf("agents: %s hands off to unknown agent %q", a.Name, target)
			}
		}
	}
	if c.Conversation.EntryAgent != "" && !names[c.Conversation.EntryAgent] {
		return fmt.Errorf("conversation: entry_agent %q is not defined", c.Conversation.EntryAgent)
	}

	seen := make(map[string]bool, len(c.ToolServers))
	for _, ts := range c.ToolServers {
		if ts.ID == "" || ts.URL == "" {
			return fmt.Errorf("tool_servers: id and url are required")
		}
		if seen[ts.ID] {
			return fmt.Errorf("tool_servers: duplicate id %q", ts.ID)
		}
		seen[ts.ID] = true
		if ts.Auth != nil && ts.Auth.TokenURL == "" {
			return fmt.Errorf("tool_servers: %s auth requires token_url", ts.ID)
		}
	}

	for _, s := range c.Autonomous.Schedules {
		if s.Cron == "" || s.TeamID == "" || s.ProjectID == "" {
			return fmt.Errorf("autonomous: schedules require cron, team_id, and project_id")
		}
	}
	return nil
}
