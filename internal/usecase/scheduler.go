package usecase

import (
	"context"
	"log/slog"
	"time"

	"RiskScanner/internal/ports"
)

// Scheduler wires the interval driver with the watchlist use case.
type Scheduler struct {
	driver    ports.Scheduler
	pipeline  *Pipeline
	watchlist []string
	daysBack  int
	logger    *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring watchlist runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, watchlist []string, daysBack int, log *slog.Logger) *Scheduler {
	return &Scheduler{driver: driver, pipeline: pipeline, watchlist: watchlist, daysBack: daysBack, logger: log}
}

// Start registers the watchlist run with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil || len(s.watchlist) == 0 {
		return nil
	}

	job := func(trigger time.Time) {
		assessed, err := s.pipeline.Watch(ctx, s.watchlist, s.daysBack)
		if s.logger == nil {
			return
		}
		if err != nil {
			s.logger.Warn("watchlist run finished with errors", "trigger", trigger, "assessed", len(assessed), "err", err)
			return
		}
		s.logger.Info("watchlist run finished", "trigger", trigger, "assessed", len(assessed))
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
