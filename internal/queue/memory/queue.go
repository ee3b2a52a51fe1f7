// Package memory provides the in-process fetch job queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Enqueue and Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory FIFO safe for concurrent producers and consumers.
type Queue[T any] struct {
	ch      chan T
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		ch: make(chan T, capacity),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, blocking until one is available.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return zero, ErrClosed
		}
		return item, nil
	}
}

// TryDequeue pops the next item without blocking. ok is false when the queue
// is currently empty.
func (q *Queue[T]) TryDequeue() (item T, ok bool) {
	select {
	case item, ok = <-q.ch:
		return item, ok
	default:
		return item, false
	}
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Drain discards every queued item and returns how many were dropped.
func (q *Queue[T]) Drain() int {
	n := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			return n
		}
		n++
	}
}

// Close stops further enqueues. Items already queued can still be dequeued.
func (q *Queue[T]) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
