// Package memory provides the in-process run queue shared by the HTTP and
// interval triggers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/postrelay/internal/relay"
)

var _ relay.Queue = (*Queue)(nil)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue. Enqueue never blocks: once capacity
// pending requests are waiting it returns relay.ErrQueueFull so triggers
// coalesce.
type Queue struct {
	ch      chan relay.RunRequest
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity (minimum 1).
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch: make(chan relay.RunRequest, capacity),
	}
}

// Enqueue adds a pending run or reports that one is already waiting.
func (q *Queue) Enqueue(ctx context.Context, req relay.RunRequest) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- req:
		return nil
	default:
		return relay.ErrQueueFull
	}
}

// Dequeue pops the next run request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (relay.RunRequest, error) {
	select {
	case <-ctx.Done():
		return relay.RunRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return relay.RunRequest{}, ErrClosed
		}
		return req, nil
	}
}

// Len reports the number of pending requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
