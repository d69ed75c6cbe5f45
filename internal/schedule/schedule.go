// Package schedule triggers runs on a fixed interval.
package schedule

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Trigger is the name recorded on scheduled runs.
const Trigger = "schedule"

// Submitter queues a run.
type Submitter interface {
	Submit(ctx context.Context, trigger string) (runID string, coalesced bool, err error)
}

// Config controls the interval loop.
type Config struct {
	Interval   time.Duration
	RunOnStart bool
}

// Scheduler submits a run every Interval.
type Scheduler struct {
	submitter Submitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Scheduler.
func New(submitter Submitter, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("schedule interval must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{submitter: submitter, cfg: cfg, logger: logger.Named("schedule")}, nil
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("interval trigger started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("run_on_start", s.cfg.RunOnStart),
	)
	if s.cfg.RunOnStart {
		s.fire(ctx)
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("interval trigger stopped")
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	runID, coalesced, err := s.submitter.Submit(ctx, Trigger)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("scheduled submit failed", zap.Error(err))
		}
		return
	}
	if coalesced {
		s.logger.Info("run already pending, tick coalesced", zap.String("run_id", runID))
		return
	}
	s.logger.Debug("scheduled run queued", zap.String("run_id", runID))
}
