// Package main provides the CLI entry point for the FlowDeck agent runtime.
//
// FlowDeck runs the conversational and autonomous agents behind a task
// management workspace: a streaming tool-call loop, multi-agent handoffs,
// and trigger-driven runs that maintain per-subject execution memory.
//
// # Basic Usage
//
// Send a message and stream the reply:
//
//	flowdeck chat --team t1 --user u1 "What is blocking the launch?"
//
// Fire an autonomous trigger:
//
//	flowdeck trigger --team t1 --type task_completed --task task-42
//
// Run the scheduler and metrics endpoint:
//
//	flowdeck serve --config flowdeck.yaml
//
// # Environment Variables
//
//   - FLOWDECK_CONFIG: Path to configuration file (default: flowdeck.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key, referenced from the config file
//   - OPENAI_API_KEY: OpenAI API key, referenced from the config file
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowdeck",
		Short: "Agent runtime for the FlowDeck workspace",
		Long: `FlowDeck connects LLM providers to a task management workspace:
conversational agents with tool calling and handoffs, plus autonomous
agents that react to workspace events and keep durable execution memory.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildTriggerCmd(),
		buildServeCmd(),
	)

	return rootCmd
}

// defaultConfigPath resolves the config file path from the environment.
func defaultConfigPath() string {
	if path := os.Getenv("FLOWDECK_CONFIG"); path != "" {
		return path
	}
	return "flowdeck.yaml"
}
