// commands.go contains the cobra command definitions. Each builder creates
// one command and wires it to a handler in this file.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/flowdeck/flowdeck/internal/config"
	"github.com/flowdeck/flowdeck/internal/conversation"
	"github.com/flowdeck/flowdeck/pkg/models"
)

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		teamID     string
		userID     string
		chatID     string
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message and stream the agent's reply",
		Example: `  # Start a new chat
  flowdeck chat --team t1 --user u1 "Plan the Q4 launch"

  # Continue an existing chat
  flowdeck chat --team t1 --user u1 --chat chat-abc "What did we decide?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath, &conversation.Request{
				TeamID: teamID,
				UserID: userID,
				ChatID: chatID,
				Text:   strings.Join(args, " "),
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&teamID, "team", "", "Team (tenant) identifier")
	cmd.Flags().StringVar(&userID, "user", "", "User identifier")
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat identifier; empty starts a new chat")
	cmd.MarkFlagRequired("team")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runChat(ctx context.Context, configPath string, req *conversation.Request) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	chunks, err := rt.conversations.HandleMessage(ctx, req)
	if err != nil {
		return err
	}

	for chunk := range chunks {
		switch {
		case chunk.Text != "":
			fmt.Print(chunk.Text)
		case chunk.ToolCall != nil:
			fmt.Fprintf(os.Stderr, "\n[%s] calling %s\n", chunk.Agent, chunk.ToolCall.Name)
		case chunk.Progress != nil:
			fmt.Fprintf(os.Stderr, "[%s] %s\n", chunk.Progress.ToolName, chunk.Progress.Content)
		case chunk.Error != nil:
			return chunk.Error
		case chunk.Done != nil:
			fmt.Println()
			fmt.Fprintf(os.Stderr, "chat: %s\n", req.ChatID)
		}
	}
	return nil
}

func buildTriggerCmd() *cobra.Command {
	var (
		configPath  string
		teamID      string
		triggerType string
		taskID      string
		projectID   string
		milestoneID string
		note        string
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Fire an autonomous trigger and wait for the run",
		Long: `Fire a workspace event at the autonomous agent and block until the run
completes. The agent works under the trigger type's action policy and
updates the subject's execution memory.`,
		Example: `  # A task was completed
  flowdeck trigger --team t1 --type task_completed --task task-42

  # Manual review of a project
  flowdeck trigger --team t1 --type manual --project p1 --note "weekly review"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			trigger := &models.Trigger{
				Type:        models.TriggerType(triggerType),
				TaskID:      taskID,
				ProjectID:   projectID,
				MilestoneID: milestoneID,
				Note:        note,
				OccurredAt:  time.Now(),
			}
			return runTrigger(cmd.Context(), configPath, teamID, trigger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&teamID, "team", "", "Team (tenant) identifier")
	cmd.Flags().StringVar(&triggerType, "type", "manual", "Trigger type (task_status_changed, task_completed, milestone_completed, agent_mention, project_created, manual)")
	cmd.Flags().StringVar(&taskID, "task", "", "Task the event concerns")
	cmd.Flags().StringVar(&projectID, "project", "", "Project the event concerns")
	cmd.Flags().StringVar(&milestoneID, "milestone", "", "Milestone for milestone_completed")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note shown to the agent")
	cmd.MarkFlagRequired("team")

	return cmd
}

func runTrigger(ctx context.Context, configPath, teamID string, trigger *models.Trigger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Autonomous.Enabled {
		return fmt.Errorf("autonomous agents are disabled in %s", configPath)
	}
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	result, err := rt.autonomous.HandleTrigger(ctx, teamID, trigger)
	if err != nil {
		return err
	}

	fmt.Println(result.Response)
	if result.Memory != nil && result.Memory.Summary != "" {
		fmt.Fprintf(os.Stderr, "\nmemory summary: %s\n", result.Memory.Summary)
	}
	return nil
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled autonomous triggers and the metrics endpoint",
		Long: `Run the long-lived parts of the runtime: the cron scheduler for
configured autonomous triggers and, when observability.metrics_addr is
set, a Prometheus metrics endpoint. Shuts down on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintln(os.Stderr, "metrics server:", err)
			}
		}()
	}

	if rt.scheduler != nil {
		rt.scheduler.Start()
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}
	rt.close(shutdownCtx)
	return nil
}
