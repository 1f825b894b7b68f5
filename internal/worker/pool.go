package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/framesight/framesight-agent/internal/broker"
)

// consumeBackoff spaces retries after a broker error so a flapping etcd
// endpoint does not spin the workers.
const consumeBackoff = time.Second

// Pool fans tasks out to a fixed set of workers. Each worker consumes
// one task at a time, so the pool size is the job concurrency limit.
type Pool struct {
	queue  broker.Broker
	driver *Driver
	size   int
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewPool(queue broker.Broker, driver *Driver, size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{queue: queue, driver: driver, size: size, logger: logger}
}

// Start launches the workers. They drain the queue until ctx is done or
// the broker closes; Wait blocks until all of them have returned.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.loop(ctx, p.logger.With("worker", i))
	}
}

func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) loop(ctx context.Context, logger *slog.Logger) {
	defer p.wg.Done()
	logger.Debug("worker started")

	for {
		task, err := p.queue.Consume(ctx)
		if err != nil {
			if errors.Is(err, broker.ErrClosed) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				logger.Debug("worker stopped")
				return
			}
			logger.Warn("consume failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(consumeBackoff):
			}
			continue
		}

		if err := p.driver.Process(ctx, task.VideoID); err != nil {
			logger.Error("job processing failed", "video_id", task.VideoID, "error", err)
		}
	}
}
