// Package scheduler runs periodic background jobs on cron schedules.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler wraps a cron runner with structured logging.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// New creates a Scheduler. Jobs are registered with Add before Start.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// Add registers fn to run on the given cron expression (standard five
// field format). Each invocation gets a fresh background context.
func (s *Scheduler) Add(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Info("scheduled job starting", zap.String("job", name))
		if err := fn(context.Background()); err != nil {
			s.logger.Error("scheduled job failed",
				zap.String("job", name),
				zap.Error(err))
			return
		}
		s.logger.Info("scheduled job finished", zap.String("job", name))
	})
	return err
}

// Start launches the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
