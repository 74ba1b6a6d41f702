package models

import "time"

// TriggerType identifies the discrete event that caused an autonomous agent
// to run outside of a chat turn.
type TriggerType string

const (
	TriggerTaskStatusChanged  TriggerType = "task_status_changed"
	TriggerTaskCompleted      TriggerType = "task_completed"
	TriggerMilestoneCompleted TriggerType = "milestone_completed"
	TriggerAgentMention       TriggerType = "agent_mention"
	TriggerProjectCreated     TriggerType = "project_created"
	TriggerManual             TriggerType = "manual"
)

// Trigger is a tagged union: only the fields relevant to its Type are set.
// The type determines which side effects the invocation may perform.
type Trigger struct {
	Type      TriggerType `json:"type"`
	ProjectID string      `json:"project_id,omitempty"`
	TaskID    string      `json:"task_id,omitempty"`

	// PreviousStatus and NewStatus are set for task_status_changed.
	PreviousStatus TaskStatus `json:"previous_status,omitempty"`
	NewStatus      TaskStatus `json:"new_status,omitempty"`

	// MilestoneID is set for milestone_completed.
	MilestoneID string `json:"milestone_id,omitempty"`

	// MentionedBy and MentionText are set for agent_mention.
	MentionedBy string `json:"mentioned_by,omitempty"`
	MentionText string `json:"mention_text,omitempty"`

	// Note is set for manual triggers.
	Note string `json:"note,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Subject returns the execution-memory subject key for the trigger: the task
// when one is present, otherwise the project.
func (t *Trigger) Subject() string {
	if t.TaskID != "" {
		return "task:" + t.TaskID
	}
	return "project:" + t.ProjectID
}
