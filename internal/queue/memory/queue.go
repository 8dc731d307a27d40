// Package memory provides the in-process run queue used when Pub/Sub is off.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// ErrClosed is returned once the queue is closed; Dequeue returns it only
// after buffered runs are drained.
var ErrClosed = leadgen.ErrQueueClosed

// Queue is a bounded FIFO of run requests. Close never closes the buffer
// channel itself, so a concurrent Enqueue cannot panic on a closed channel.
type Queue struct {
	ch        chan leadgen.RunRequest
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue returns a Queue holding up to capacity pending runs.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan leadgen.RunRequest, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue adds req, waiting for space until ctx ends or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, req leadgen.RunRequest) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- req:
		return nil
	}
}

// Dequeue returns the oldest pending run, waiting until one arrives, ctx
// ends or the queue is closed and empty.
func (q *Queue) Dequeue(ctx context.Context) (leadgen.RunRequest, error) {
	select {
	case req := <-q.ch:
		return req, nil
	default:
	}
	select {
	case <-ctx.Done():
		return leadgen.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req := <-q.ch:
		return req, nil
	case <-q.done:
		select {
		case req := <-q.ch:
			return req, nil
		default:
			return leadgen.RunRequest{}, ErrClosed
		}
	}
}

// Len reports how many runs are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops intake. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
