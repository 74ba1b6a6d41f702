package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowdeck/flowdeck/pkg/models"
)

// MemDirectory is an in-memory task backend scoped by team. It backs local
// CLI runs and tests; production deployments implement Directory against the
// dashboard's task service.
type MemDirectory struct {
	mu    sync.RWMutex
	tasks map[string][]*models.Task
}

func NewMemDirectory() *MemDirectory {
	return &MemDirectory{tasks: make(map[string][]*models.Task)}
}

func (d *MemDirectory) ListTasks(_ context.Context, teamID string, filter ListFilter) ([]*models.Task, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*models.Task
	for _, task := range d.tasks[teamID] {
		if filter.ProjectID != "" && task.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Assignee != "" && task.Assignee != filter.Assignee {
			continue
		}
		copied := *task
		out = append(out, &copied)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (d *MemDirectory) CreateTask(_ context.Context, teamID string, task *models.Task) (*models.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copied := *task
	d.tasks[teamID] = append(d.tasks[teamID], &copied)
	result := copied
	return &result, nil
}

func (d *MemDirectory) UpdateTask(_ context.Context, teamID, taskID string, update TaskUpdate) (*models.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, task := range d.tasks[teamID] {
		if task.ID != taskID {
			continue
		}
		if update.Title != nil {
			task.Title = *update.Title
		}
		if update.Status != nil {
			task.Status = *update.Status
		}
		if update.Assignee != nil {
			task.Assignee = *update.Assignee
		}
		task.UpdatedAt = time.Now()
		copied := *task
		return &copied, nil
	}
	return nil, fmt.Errorf("task %s not found", taskID)
}
