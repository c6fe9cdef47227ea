// Package dispatcher runs the worker pool and guards submission to the queue.
package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/seo-brief/internal/brief"
)

// Runner is one worker loop. Run returns when the queue closes or ctx ends.
type Runner interface {
	Run(ctx context.Context) error
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   brief.Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(queue brief.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{queue: queue, workers: workers}
}

// Run starts all workers and blocks until every one has returned. The first
// worker error cancels the others.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	return nil
}

// Enqueue hands item to the queue. Jobs wait there however busy the pool is,
// so submission never turns a valid job away.
func (d *Dispatcher) Enqueue(ctx context.Context, item brief.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
