// Package scheduler runs periodic housekeeping for AltTutor, such as expiring idle in-memory
// conversation sessions.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs jobs on cron expressions or "@every <duration>" descriptors.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a scheduler. Panicking jobs are recovered and logged.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules task under a 5-field cron expression or a descriptor.
func (s *Scheduler) AddJob(expr string, name string, task func()) error {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", expr, name, err)
	}
	slog.Debug("Scheduler job added", "job", name, "schedule", expr, "entryID", id)
	return nil
}

// Every schedules task at a fixed interval.
func (s *Scheduler) Every(interval time.Duration, name string, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	return s.AddJob("@every "+interval.String(), name, task)
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Debug("Scheduler stopped")
}
