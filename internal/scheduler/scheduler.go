// Package scheduler runs the cron-driven jobs: the end-of-day sweep, the
// hourly strategy recompute safety net, and the morning day-boundary marker.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"catalystbot/internal/ports"
)

// Scheduler wraps a cron runner pinned to the market timezone.
type Scheduler struct {
	logger ports.Logger
	cron   *cron.Cron
}

// New creates a scheduler whose expressions are interpreted in the given
// location.
func New(logger ports.Logger, loc *time.Location) *Scheduler {
	return &Scheduler{
		logger: logger,
		cron:   cron.New(cron.WithLocation(loc)),
	}
}

// Add registers a named job. Panics inside the job are contained here so a
// bad tick never kills the process.
func (s *Scheduler) Add(spec, name string, job func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(ctx, nil, "Scheduled job panicked", map[string]interface{}{"job": name, "panic": r})
			}
		}()
		s.logger.Debug(ctx, "Scheduled job running", map[string]interface{}{"job": name})
		job(ctx)
	})
	if err != nil {
		return err
	}
	s.logger.Info(context.Background(), "Scheduled job registered", map[string]interface{}{"job": name, "spec": spec})
	return nil
}

// Start begins dispatching jobs in a background goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts dispatch and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
