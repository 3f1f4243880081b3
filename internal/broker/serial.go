package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"livebridge/internal/schema"
	"livebridge/pkg/exception"

	"golang.org/x/sync/semaphore"
)

// Serialized makes a Broker safe for concurrent callers. At most one call is
// in flight on the inner broker; waiting calls are served in arrival order.
// The timeout covers queueing plus the call. A caller whose timeout expires
// gets exception.ErrTimeout; if the inner call is still running it keeps the
// slot until it returns, so exclusivity holds even for brokers that ignore ctx.
type Serialized struct {
	inner   Broker
	slot    *semaphore.Weighted
	timeout time.Duration

	waiting  atomic.Int64
	inFlight atomic.Int64
}

// NewSerialized wraps inner. A zero timeout disables the per-call deadline.
func NewSerialized(inner Broker, timeout time.Duration) *Serialized {
	return &Serialized{
		inner:   inner,
		slot:    semaphore.NewWeighted(1),
		timeout: timeout,
	}
}

// Timeout returns the per-call deadline.
func (s *Serialized) Timeout() time.Duration {
	return s.timeout
}

// Waiting returns the number of calls queued for the slot.
func (s *Serialized) Waiting() int64 {
	return s.waiting.Load()
}

// InFlight reports whether the inner broker is currently executing a call,
// including calls whose caller already timed out.
func (s *Serialized) InFlight() bool {
	return s.inFlight.Load() > 0
}

// Idle blocks until no call holds the slot or ctx ends.
func (s *Serialized) Idle(ctx context.Context) error {
	if err := s.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	s.slot.Release(1)
	return nil
}

func (s *Serialized) Submit(ctx context.Context, intent schema.OrderIntent) (OrderHandle, error) {
	return exclusive(ctx, s, "submit", func(ctx context.Context) (OrderHandle, error) {
		return s.inner.Submit(ctx, intent)
	})
}

func (s *Serialized) Cancel(ctx context.Context, handle OrderHandle) (bool, error) {
	return exclusive(ctx, s, "cancel", func(ctx context.Context) (bool, error) {
		return s.inner.Cancel(ctx, handle)
	})
}

func (s *Serialized) Positions(ctx context.Context) (map[schema.SymbolID]schema.Quantity, error) {
	return exclusive(ctx, s, "positions", s.inner.Positions)
}

func (s *Serialized) Account(ctx context.Context) (AccountState, error) {
	return exclusive(ctx, s, "account", s.inner.Account)
}

// Fills passes through; the fill stream is not a call on the connection.
func (s *Serialized) Fills() <-chan schema.Fill {
	return s.inner.Fills()
}

func (s *Serialized) Updates() <-chan OrderUpdate {
	return Updates(s.inner)
}

func exclusive[T any](ctx context.Context, s *Serialized, op string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.waiting.Add(1)
	err := s.slot.Acquire(ctx, 1)
	s.waiting.Add(-1)
	if err != nil {
		return zero, contextErr(ctx, op+" queued")
	}

	done := make(chan Result[T], 1)
	s.inFlight.Add(1)
	go func() {
		defer func() {
			s.inFlight.Add(-1)
			s.slot.Release(1)
		}()
		v, err := call(ctx)
		done <- Result[T]{Value: v, Err: err}
	}()

	select {
	case r := <-done:
		return unwrapResult(op, r)
	case <-ctx.Done():
		// prefer a result that raced with the deadline
		select {
		case r := <-done:
			return unwrapResult(op, r)
		default:
		}
		return zero, contextErr(ctx, op)
	}
}

func unwrapResult[T any](op string, r Result[T]) (T, error) {
	if r.Err != nil && errors.Is(r.Err, context.DeadlineExceeded) && !errors.Is(r.Err, exception.ErrTimeout) {
		return r.Value, fmt.Errorf("%s: %w: %v", op, exception.ErrTimeout, r.Err)
	}
	return r.Value, r.Err
}
