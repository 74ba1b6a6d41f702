// Package tasks exposes the project task directory to agents as tools.
package tasks

import (
	"context"

	"github.com/flowdeck/flowdeck/pkg/models"
)

// ListFilter narrows a task listing.
type ListFilter struct {
	ProjectID string
	Status    models.TaskStatus
	Assignee  string
	Limit     int
}

// TaskUpdate carries the mutable task fields. Nil fields are untouched.
type TaskUpdate struct {
	Title    *string
	Status   *models.TaskStatus
	Assignee *string
}

// Directory is the task backend the tools call into. The dashboard's task
// service implements it; tests use an in-memory fake.
type Directory interface {
	ListTasks(ctx context.Context, teamID string, filter ListFilter) ([]*models.Task, error)
	CreateTask(ctx context.Context, teamID string, task *models.Task) (*models.Task, error)
	UpdateTask(ctx context.Context, teamID, taskID string, update TaskUpdate) (*models.Task, error)
}

func validStatus(s models.TaskStatus) bool {
	switch s {
	case models.TaskTodo, models.TaskInProgress, models.TaskInReview, models.TaskDone:
		return true
	}
	return false
}
