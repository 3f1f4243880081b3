package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Queue is a bounded, non-blocking queue with a single consumer.
type Queue[T any] struct {
	ch     chan T
	closed atomic.Bool
	drops  atomic.Uint64
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPublish enqueues v without blocking.
func (q *Queue[T]) TryPublish(v T) (err error) {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	// Close may race with a publish that passed the check above.
	defer func() {
		if recover() != nil {
			err = ErrQueueClosed
		}
	}()
	select {
	case q.ch <- v:
		return nil
	default:
		q.drops.Add(1)
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new values. Buffered values are still
// delivered to Run.
func (q *Queue[T]) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}

// Len returns the number of buffered values.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Drops returns how many publishes failed with ErrQueueFull.
func (q *Queue[T]) Drops() uint64 {
	return q.drops.Load()
}

// Run consumes values until the context is done or the queue is closed and drained.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-q.ch:
			if !ok {
				return
			}
			handler(v)
		}
	}
}
