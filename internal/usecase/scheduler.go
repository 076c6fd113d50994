package usecase

import (
	"context"
	"log/slog"
	"time"

	"NewsCollector/internal/domain"
	"NewsCollector/internal/ports"
)

// RunFunc executes one campaign triggered at the given time.
type RunFunc func(ctx context.Context, trigger time.Time) (domain.CollectionResult, error)

// Scheduler wires the recurring driver with collection runs.
type Scheduler struct {
	driver ports.Scheduler
	run    RunFunc
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring campaigns.
func NewScheduler(driver ports.Scheduler, run RunFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, run: run, logger: logger}
}

// Start registers the campaign with the provided driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.run == nil {
		return nil
	}

	job := func(trigger time.Time) {
		result, err := s.run(ctx, trigger)
		if err != nil {
			s.logger.Error("scheduled run failed", "trigger", trigger, "error", err)
			return
		}
		s.logger.Info("scheduled run done", "trigger", trigger, "clusters", len(result.Clusters), "partial", result.Partial)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
