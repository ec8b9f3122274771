package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmfg/portcall-timestamp-service/internal/domain"
)

// Scheduler periodically synthesizes a normalization trigger for every ship
// with activity inside the retention window, so predictions keep flowing
// even when no trigger messages arrive on the queue.
type Scheduler struct {
	pipeline *Pipeline
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler driving the given pipeline.
func NewScheduler(p *Pipeline, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{pipeline: p, interval: interval, logger: logger}
}

// Run fires a trigger every interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	ships, err := s.pipeline.store.ActiveShips(ctx)
	if err != nil {
		s.logger.Error("active ship lookup failed", "error", err)
		return
	}
	if len(ships) == 0 {
		return
	}

	logger := s.logger.With("trigger", "scheduled", "ships", len(ships))
	if err := s.pipeline.RunTrigger(ctx, domain.Trigger{Ships: ships}, logger); err != nil {
		logger.Error("scheduled trigger failed", "error", err)
	}
}
