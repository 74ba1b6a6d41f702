package models

import "time"

// WorkingMemory is a small mutable scratchpad, at most one row per user
// (optionally scoped to a chat). It is upserted, never duplicated. Concurrent
// chat-driven and autonomous writers race on it; last write wins.
type WorkingMemory struct {
	UserID    string    `json:"user_id"`
	ChatID    string    `json:"chat_id,omitempty"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlockerStatus is the lifecycle state of a blocker.
type BlockerStatus string

const (
	BlockerOpen     BlockerStatus = "open"
	BlockerResolved BlockerStatus = "resolved"
)

// Blocker is an obstacle recorded by an autonomous agent. Blockers merge by
// description equality: an incoming blocker matching an existing description
// replaces that entry in place.
type Blocker struct {
	Description string        `json:"description"`
	TaskID      string        `json:"task_id,omitempty"`
	Status      BlockerStatus `json:"status"`
}

// Decision is one dated entry in the append-only decision log.
type Decision struct {
	Date     time.Time `json:"date"`
	Decision string    `json:"decision"`
	Reason   string    `json:"reason,omitempty"`
}

// MilestoneStatus tracks progress against a single milestone.
type MilestoneStatus struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

// ExecutionMemory is the durable, mergeable state a trigger-driven autonomous
// agent carries across independent invocations. It is created on first update
// for a subject and every later update merges against the persisted value;
// nothing overwrites it wholesale.
type ExecutionMemory struct {
	Summary           string                     `json:"summary,omitempty"`
	Plan              string                     `json:"plan,omitempty"`
	Notes             []string                   `json:"notes,omitempty"`
	Decisions         []Decision                 `json:"decisions,omitempty"`
	Blockers          []Blocker                  `json:"blockers,omitempty"`
	MilestoneProgress map[string]MilestoneStatus `json:"milestone_progress,omitempty"`
}

// Merge folds an incoming partial update into the receiver using the
// field-specific rules: summary and plan overwrite when set, notes and
// decisions append, blockers merge by description, milestone progress merges
// by key with last write winning. The receiver is mutated in place.
func (m *ExecutionMemory) Merge(incoming *ExecutionMemory) {
	if incoming == nil {
		return
	}
	if incoming.Summary != "" {
		m.Summary = incoming.Summary
	}
	if incoming.Plan != "" {
		m.Plan = incoming.Plan
	}
	m.Notes = append(m.Notes, incoming.Notes...)
	m.Decisions = append(m.Decisions, incoming.Decisions...)
	for _, b := range incoming.Blockers {
		m.mergeBlocker(b)
	}
	if len(incoming.MilestoneProgress) > 0 {
		if m.MilestoneProgress == nil {
			m.MilestoneProgress = make(map[string]MilestoneStatus, len(incoming.MilestoneProgress))
		}
		for id, status := range incoming.MilestoneProgress {
			m.MilestoneProgress[id] = status
		}
	}
}

func (m *ExecutionMemory) mergeBlocker(incoming Blocker) {
	for i := range m.Blockers {
		if m.Blockers[i].Description == incoming.Description {
			m.Blockers[i] = incoming
			return
		}
	}
	m.Blockers = append(m.Blockers, incoming)
}

// Clone returns a deep copy so callers can merge without aliasing the
// persisted value.
func (m *ExecutionMemory) Clone() *ExecutionMemory {
	if m == nil {
		return &ExecutionMemory{}
	}
	clone := &ExecutionMemory{
		Summary: m.Summary,
		Plan:    m.Plan,
	}
	if m.Notes != nil {
		clone.Notes = append([]string(nil), m.Notes...)
	}
	if m.Decisions != nil {
		clone.Decisions = append([]Decision(nil), m.Decisions...)
	}
	if m.Blockers != nil {
		clone.Blockers = append([]Blocker(nil), m.Blockers...)
	}
	if m.MilestoneProgress != nil {
		clone.MilestoneProgress = make(map[string]MilestoneStatus, len(m.MilestoneProgress))
		for id, status := range m.MilestoneProgress {
			clone.MilestoneProgress[id] = status
		}
	}
	return clone
}
