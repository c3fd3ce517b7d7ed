package scanrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/EPFL-ENAC/AddLidar/internal/logging"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

// RunFunc performs one scan.
type RunFunc func(ctx context.Context) (*Result, error)

// Scheduler repeats a scan on a fixed interval. Ticks never overlap: a tick
// arriving while a scan is still running is rescheduled.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewScheduler creates a scheduler instance.
func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		scheduler: s,
		logger:    logging.NewComponentLogger(logger, "schedule"),
	}, nil
}

// Every registers run at interval, starting immediately.
func (s *Scheduler) Every(ctx context.Context, interval time.Duration, run RunFunc) error {
	if interval <= 0 {
		return fmt.Errorf("%w: schedule interval must be positive", services.ErrConfiguration)
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.tick(ctx, run) }),
		gocron.WithName("lidarscan-scan"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to create periodic scan job: %w", err)
	}
	s.logger.Info("periodic scan scheduled", logging.Duration("interval", interval))
	return nil
}

func (s *Scheduler) tick(ctx context.Context, run RunFunc) {
	if ctx.Err() != nil {
		return
	}
	res, err := run(ctx)
	switch {
	case errors.Is(err, ErrLocked):
		s.logger.Warn("scan skipped; lock held by another process",
			logging.String(logging.FieldEventType, "scan_skipped"),
			logging.String(logging.FieldErrorHint, "wait for the other scan to finish"),
			logging.String(logging.FieldImpact, "this tick did nothing"),
		)
	case err != nil:
		logging.ErrorWithContext(s.logger, "scheduled scan failed", "scan_failed",
			logging.ErrorKind(err),
			logging.Error(err),
		)
	case res != nil:
		s.logger.Debug("scheduled scan complete", logging.String(logging.FieldRunID, res.RunID))
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop waits for a running scan and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
