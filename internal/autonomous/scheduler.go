package autonomous

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowdeck/flowdeck/pkg/models"
)

// Scheduler fires recurring manual triggers on cron schedules, for standing
// work like daily project check-ins.
type Scheduler struct {
	cron    *cron.Cron
	manager *Manager
	logger  *slog.Logger
}

// NewScheduler creates a scheduler over the manager.
func NewScheduler(manager *Manager, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		manager: manager,
		logger:  logger,
	}
}

// Add schedules a recurring run. spec is a standard cron expression; the
// trigger fires as a manual trigger for the project with the given note.
func (s *Scheduler) Add(spec, teamID, projectID, note string) (cron.EntryID, error) {
	if projectID == "" {
		return 0, fmt.Errorf("project id is required")
	}
	return s.cron.AddFunc(spec, func() {
		trigger := &models.Trigger{
			Type:       models.TriggerManual,
			ProjectID:  projectID,
			Note:       note,
			OccurredAt: time.Now(),
		}
		if _, err := s.manager.HandleTrigger(context.Background(), teamID, trigger); err != nil {
			s.logger.Error("scheduled trigger run failed",
				"project_id", projectID, "error", err)
		}
	})
}

// Start begins dispatching scheduled runs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight runs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
