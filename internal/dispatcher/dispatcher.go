// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/domainlink/linkauditor/internal/linkaudit"
	"github.com/domainlink/linkauditor/internal/telemetry"
	"github.com/domainlink/linkauditor/internal/worker"
)

// statsPollInterval controls how often the dispatcher samples queue
// depth for the queue_depth gauge.
const statsPollInterval = 5 * time.Second

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   linkaudit.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue linkaudit.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.pollStats(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
}

// pollStats periodically samples the queue's depth into the
// queue_depth gauge until ctx is done.
func (d *Dispatcher) pollStats(ctx context.Context) {
	ticker := time.NewTicker(statsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := d.queue.Stats(ctx)
			if err != nil {
				continue
			}
			telemetry.ObserveQueueDepth(stats.Waiting, stats.Leased, stats.DeadLetter)
		}
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job linkaudit.Job) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
