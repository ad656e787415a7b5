// Package memory provides the bounded in-memory record queue the
// orchestrator drains while a collection run produces into it.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/text-audit/data-collector/internal/collector"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded record queue with context-aware operations. Producers
// block when the queue is full; that blocking is the engine's backpressure.
type Queue struct {
	ch      chan *collector.RawRecord
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan *collector.RawRecord, capacity),
	}
}

// Producer exposes the send side for a Collect invocation's output channel.
func (q *Queue) Producer() chan<- *collector.RawRecord {
	return q.ch
}

// Enqueue pushes a record or returns once the context ends.
func (q *Queue) Enqueue(ctx context.Context, rec *collector.RawRecord) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- rec:
		return nil
	}
}

// Dequeue pops the next record, respecting context cancellation. Returns
// ErrClosed after the producer closes the queue and the buffer drains.
func (q *Queue) Dequeue(ctx context.Context) (*collector.RawRecord, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case rec, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		return rec, nil
	}
}

// Close marks the producer side finished. Safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
