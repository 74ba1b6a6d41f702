// Package observability provides runtime metrics and trace setup.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts completed agent turns by agent and outcome.
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowdeck",
		Subsystem: "agent",
		Name:      "turns_total",
		Help:      "Completed agent turns by agent name and outcome.",
	}, []string{"agent", "outcome"})

	// TurnDuration observes wall time per turn.
	TurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowdeck",
		Subsystem: "agent",
		Name:      "turn_duration_seconds",
		Help:      "Wall time of agent turns.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"agent"})

	// ToolExecutions counts tool executions by tool and status.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowdeck",
		Subsystem: "agent",
		Name:      "tool_executions_total",
		Help:      "Tool executions by tool name and status.",
	}, []string{"tool", "status"})

	// HandoffsTotal counts control transfers between agent definitions.
	HandoffsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowdeck",
		Subsystem: "multiagent",
		Name:      "handoffs_total",
		Help:      "Handoffs by source and target agent.",
	}, []string{"from", "to"})

	// TriggerRuns counts autonomous agent invocations by trigger type and
	// outcome.
	TriggerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowdeck",
		Subsystem: "autonomous",
		Name:      "trigger_runs_total",
		Help:      "Autonomous agent runs by trigger type and outcome.",
	}, []string{"trigger", "outcome"})
)
