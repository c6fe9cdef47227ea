// Package memory provides the in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/seo-brief/internal/brief"
)

// Queue is an unbounded FIFO. Enqueue never blocks, so job submission only
// waits on a mutex; Dequeue blocks until work arrives, the queue closes or
// ctx ends.
type Queue struct {
	mu     sync.Mutex
	items  []brief.QueueItem
	closed bool
	// ready holds at most one wake-up; a consumer that takes an item passes
	// it on while items remain.
	ready chan struct{}
	done  chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue appends item. It fails only once the queue is closed or ctx has ended.
func (q *Queue) Enqueue(ctx context.Context, item brief.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return brief.ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Dequeue pops the oldest job. Jobs queued before Close still drain; after
// that it returns brief.ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (brief.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = brief.QueueItem{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return brief.QueueItem{}, brief.ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return brief.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.ready:
		case <-q.done:
		}
	}
}

// Len reports how many jobs are waiting for a worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops new submissions and wakes every waiting consumer.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
