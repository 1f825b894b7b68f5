package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/framesight/framesight-agent/internal/jobs"
)

// Janitor periodically re-queues processing jobs whose worker died and
// re-publishes queued jobs whose tasks were lost with the broker.
type Janitor struct {
	service  *jobs.Service
	interval time.Duration
	logger   *slog.Logger
}

func NewJanitor(service *jobs.Service, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{service: service, interval: interval, logger: logger}
}

// Start sweeps once immediately, which doubles as crash recovery at
// boot, then on every tick until ctx ends.
func (j *Janitor) Start(ctx context.Context) {
	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	published, err := j.service.RecoverStale(ctx)
	if err != nil {
		j.logger.Warn("stale job sweep failed", "error", err)
		return
	}
	if published > 0 {
		j.logger.Info("stale jobs re-queued", "count", published)
	}
}
