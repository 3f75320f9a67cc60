package tracker

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler periodically runs the full reconciliation chain.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(svc *Service, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{svc: svc, interval: interval, logger: logger}
}

// Run executes the chain on a ticker. Blocks until ctx is cancelled.
// A failing chain is logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler: started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.svc.RunChain(ctx); err != nil {
				s.logger.Error("scheduler: chain", "error", err)
			}
		}
	}
}
