// Package autonomous runs agents in response to workspace events rather than
// chat turns. Each invocation is bounded by a trigger-specific action policy
// and carries durable execution memory across runs.
package autonomous

import "github.com/flowdeck/flowdeck/pkg/models"

// Action names the side effects a trigger run may perform. Actions map to
// tool names, so the policy is enforced where tools are dispatched, not in
// prompts.
const (
	ActionListTasks    = "list_tasks"
	ActionCreateTask   = "create_task"
	ActionUpdateTask   = "update_task"
	ActionUpdateMemory = "update_execution_memory"
)

// permittedActions is the per-trigger allowlist. A tool missing from a
// trigger's set cannot be dispatched during that run regardless of what the
// model asks for.
//
// task_completed deliberately excludes create_task: completion handling
// summarizes and reconciles, it must not spawn follow-up work on its own.
var permittedActions = map[models.TriggerType]map[string]bool{
	models.TriggerTaskStatusChanged: {
		ActionListTasks:    true,
		ActionUpdateTask:   true,
		ActionUpdateMemory: true,
	},
	models.TriggerTaskCompleted: {
		ActionListTasks:    true,
		ActionUpdateTask:   true,
		ActionUpdateMemory: true,
	},
	models.TriggerMilestoneCompleted: {
		ActionListTasks:    true,
		ActionCreateTask:   true,
		ActionUpdateTask:   true,
		ActionUpdateMemory: true,
	},
	models.TriggerAgentMention: {
		ActionListTasks:    true,
		ActionCreateTask:   true,
		ActionUpdateTask:   true,
		ActionUpdateMemory: true,
	},
	models.TriggerProjectCreated: {
		ActionListTasks:    true,
		ActionCreateTask:   true,
		ActionUpdateMemory: true,
	},
	models.TriggerManual: {
		ActionListTasks:    true,
		ActionCreateTask:   true,
		ActionUpdateTask:   true,
		ActionUpdateMemory: true,
	},
}

// Permitted reports whether a trigger run may dispatch the named tool.
func Permitted(trigger models.TriggerType, tool string) bool {
	actions, ok := permittedActions[trigger]
	if !ok {
		return false
	}
	return actions[tool]
}
