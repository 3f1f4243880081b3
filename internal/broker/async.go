package broker

import (
	"context"
	"errors"
	"fmt"

	"livebridge/internal/schema"
	"livebridge/pkg/exception"
)

// Result carries the outcome of a non-blocking call.
type Result[T any] struct {
	Value T
	Err   error
}

// AsyncBroker is the non-blocking broker capability. Each call returns a
// channel that receives exactly one Result.
type AsyncBroker interface {
	SubmitAsync(intent schema.OrderIntent) <-chan Result[OrderHandle]
	CancelAsync(handle OrderHandle) <-chan Result[bool]
	PositionsAsync() <-chan Result[map[schema.SymbolID]schema.Quantity]
	AccountAsync() <-chan Result[AccountState]
	Fills() <-chan schema.Fill
}

// FromAsync adapts an AsyncBroker to Broker. A call whose context ends before
// the result arrives fails with exception.ErrTimeout on deadline, or the
// context error on cancellation.
func FromAsync(a AsyncBroker) Broker {
	return &asyncAdapter{a: a}
}

type asyncAdapter struct {
	a AsyncBroker
}

func (b *asyncAdapter) Submit(ctx context.Context, intent schema.OrderIntent) (OrderHandle, error) {
	return await(ctx, "submit", b.a.SubmitAsync(intent))
}

func (b *asyncAdapter) Cancel(ctx context.Context, handle OrderHandle) (bool, error) {
	return await(ctx, "cancel", b.a.CancelAsync(handle))
}

func (b *asyncAdapter) Positions(ctx context.Context) (map[schema.SymbolID]schema.Quantity, error) {
	return await(ctx, "positions", b.a.PositionsAsync())
}

func (b *asyncAdapter) Account(ctx context.Context) (AccountState, error) {
	return await(ctx, "account", b.a.AccountAsync())
}

func (b *asyncAdapter) Fills() <-chan schema.Fill {
	return b.a.Fills()
}

func (b *asyncAdapter) Updates() <-chan OrderUpdate {
	if s, ok := b.a.(UpdateStreamer); ok {
		return s.Updates()
	}
	return nil
}

func await[T any](ctx context.Context, op string, ch <-chan Result[T]) (T, error) {
	var zero T
	select {
	case r, ok := <-ch:
		if !ok {
			return zero, fmt.Errorf("%s: %w", op, exception.ErrConnection)
		}
		return r.Value, r.Err
	case <-ctx.Done():
		return zero, contextErr(ctx, op)
	}
}

func contextErr(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, exception.ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, ctx.Err())
}
