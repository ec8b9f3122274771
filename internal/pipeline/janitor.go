package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmfg/portcall-timestamp-service/internal/observability"
)

// Purger removes stored events older than a horizon.
type Purger interface {
	DeleteOlderThan(ctx context.Context, horizon time.Duration) (int64, error)
}

// Janitor runs the periodic retention purge.
type Janitor struct {
	purger   Purger
	horizon  time.Duration
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewJanitor creates a Janitor purging events older than horizon once per interval.
func NewJanitor(purger Purger, horizon, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Janitor {
	return &Janitor{
		purger:   purger,
		horizon:  horizon,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run purges on every tick until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.purgeOnce(ctx)
		}
	}
}

func (j *Janitor) purgeOnce(ctx context.Context) {
	deleted, err := j.purger.DeleteOlderThan(ctx, j.horizon)
	if err != nil {
		j.logger.Error("purge failed", "error", err)
		return
	}
	if deleted > 0 {
		j.metrics.PurgedRows.Add(float64(deleted))
		j.logger.Info("purged expired events", "deleted", deleted, "horizon", j.horizon)
	}
}
