package autonomous

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowdeck/flowdeck/internal/agent"
	"github.com/flowdeck/flowdeck/internal/memory"
	"github.com/flowdeck/flowdeck/internal/observability"
	"github.com/flowdeck/flowdeck/pkg/models"
)

// Config configures the autonomous manager.
type Config struct {
	// Model used for trigger runs.
	Model string

	// AgentName labels metrics and chunk attribution.
	// Default: "autonomous"
	AgentName string

	// RunTimeout bounds one trigger run end to end.
	// Default: 10m
	RunTimeout time.Duration

	// MaxTurns bounds the tool loop per run.
	MaxTurns int

	Logger *slog.Logger
}

// Manager executes trigger-driven agent runs. Each run loads the subject's
// execution memory, works under the trigger's action policy, and blocks
// until the agent finishes.
type Manager struct {
	store  memory.Store
	loop   *agent.Loop
	tools  []agent.Tool
	config *Config
}

// NewManager creates an autonomous run manager. tools is the full capability
// set; each run filters it down to the trigger's permitted actions.
func NewManager(store memory.Store, loop *agent.Loop, tools []agent.Tool, config *Config) *Manager {
	if config == nil {
		config = &Config{}
	}
	cfg := *config
	if cfg.AgentName == "" {
		cfg.AgentName = "autonomous"
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{store: store, loop: loop, tools: tools, config: &cfg}
}

// RunResult is the outcome of one trigger run.
type RunResult struct {
	// Response is the agent's final message text.
	Response string

	// Memory is the execution memory as of the end of the run.
	Memory *models.ExecutionMemory
}

// HandleTrigger runs the agent for one trigger event and blocks until it
// completes. The run is idempotent with respect to execution memory: handling
// the same event twice converges on the same stored state.
func (m *Manager) HandleTrigger(ctx context.Context, teamID string, trigger *models.Trigger) (*RunResult, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger is nil")
	}
	if _, ok := permittedActions[trigger.Type]; !ok {
		return nil, fmt.Errorf("unknown trigger type: %s", trigger.Type)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.RunTimeout)
	defer cancel()

	subject := trigger.Subject()
	mem, err := m.store.GetExecutionMemory(ctx, subject)
	if err != nil {
		observability.TriggerRuns.WithLabelValues(string(trigger.Type), "error").Inc()
		return nil, fmt.Errorf("load execution memory: %w", err)
	}

	memTool := newExecutionMemoryTool(m.store, subject, mem)
	registry := agent.NewRegistry(m.tools, []agent.Tool{memTool}).
		Filter(func(name string) bool { return Permitted(trigger.Type, name) })

	runCtx := agent.WithRunContext(ctx, &agent.RunContext{
		TeamID: teamID,
		Now:    time.Now(),
	})

	history := []*models.Message{{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Parts:     []models.Part{models.TextPart(triggerPrompt(trigger, mem))},
		CreatedAt: time.Now(),
	}}

	chunks, err := m.loop.Run(runCtx, &agent.TurnRequest{
		Agent:    m.config.AgentName,
		System:   triggerInstructions(trigger.Type),
		Model:    m.config.Model,
		History:  history,
		Registry: registry,
		MaxTurns: m.config.MaxTurns,
	})
	if err != nil {
		observability.TriggerRuns.WithLabelValues(string(trigger.Type), "error").Inc()
		return nil, err
	}

	final, err := agent.Generate(runCtx, chunks, m.config.RunTimeout)
	if err != nil {
		observability.TriggerRuns.WithLabelValues(string(trigger.Type), "error").Inc()
		m.config.Logger.Error("trigger run failed",
			"trigger", trigger.Type, "subject", subject, "error", err)
		return nil, err
	}

	observability.TriggerRuns.WithLabelValues(string(trigger.Type), "completed").Inc()
	m.config.Logger.Info("trigger run completed",
		"trigger", trigger.Type, "subject", subject)

	return &RunResult{
		Response: final.Text(),
		Memory:   memTool.snapshot(),
	}, nil
}

// triggerInstructions is the system prompt per trigger type. The action
// policy is enforced at tool dispatch; the prompt just sets expectations.
func triggerInstructions(t models.TriggerType) string {
	base := "You are an autonomous project agent in a task management workspace. You run in response to workspace events, without a human in the loop. Keep the execution memory current with update_execution_memory: it is the only state you carry into future runs."

	switch t {
	case models.TriggerTaskStatusChanged:
		return base + " A task changed status. Assess what the change means for the project, adjust related tasks if needed, and record progress."
	case models.TriggerTaskCompleted:
		return base + " A task was completed. Summarize the outcome and reconcile remaining work. Do not create new tasks from this event."
	case models.TriggerMilestoneCompleted:
		return base + " A milestone was completed. Record milestone progress, update the plan, and seed tasks for the next phase where the plan calls for them."
	case models.TriggerAgentMention:
		return base + " A teammate mentioned you. Address their request directly and record anything durable."
	case models.TriggerProjectCreated:
		return base + " A project was just created. Set up an initial plan and seed the task list."
	default:
		return base + " Handle the event described in the message."
	}
}

// triggerPrompt renders the trigger event and current memory as the run's
// opening message.
func triggerPrompt(trigger *models.Trigger, mem *models.ExecutionMemory) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Event: %s\n", trigger.Type)
	if trigger.ProjectID != "" {
		fmt.Fprintf(&sb, "Project: %s\n", trigger.ProjectID)
	}
	if trigger.TaskID != "" {
		fmt.Fprintf(&sb, "Task: %s\n", trigger.TaskID)
	}
	switch trigger.Type {
	case models.TriggerTaskStatusChanged:
		fmt.Fprintf(&sb, "Status change: %s -> %s\n", trigger.PreviousStatus, trigger.NewStatus)
	case models.TriggerMilestoneCompleted:
		fmt.Fprintf(&sb, "Milestone: %s\n", trigger.MilestoneID)
	case models.TriggerAgentMention:
		fmt.Fprintf(&sb, "From %s: %s\n", trigger.MentionedBy, trigger.MentionText)
	case models.TriggerManual:
		if trigger.Note != "" {
			fmt.Fprintf(&sb, "Note: %s\n", trigger.Note)
		}
	}

	if mem != nil {
		sb.WriteString("\nCurrent execution memory:\n")
		if mem.Summary != "" {
			fmt.Fprintf(&sb, "Summary: %s\n", mem.Summary)
		}
		if mem.Plan != "" {
			fmt.Fprintf(&sb, "Plan: %s\n", mem.Plan)
		}
		for _, note := range mem.Notes {
			fmt.Fprintf(&sb, "Note: %s\n", note)
		}
		for _, b := range mem.Blockers {
			fmt.Fprintf(&sb, "Blocker (%s): %s\n", b.Status, b.Description)
		}
		for id, ms := range mem.MilestoneProgress {
			fmt.Fprintf(&sb, "Milestone %s: %s\n", id, ms.Status)
		}
	} else {
		sb.WriteString("\nThis is the first run for this subject; execution memory is empty.\n")
	}
	return sb.String()
}
