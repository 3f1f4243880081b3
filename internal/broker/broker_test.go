package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"livebridge/internal/schema"
	"livebridge/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedBroker blocks every Submit until its gate is opened and records the
// order in which calls reached it.
type gatedBroker struct {
	gate     chan struct{}
	entered  chan uint64
	mu       sync.Mutex
	order    []uint64
	active   atomic.Int32
	maxSeen  atomic.Int32
	fills    chan schema.Fill
	ignoreCt bool
}

func newGatedBroker() *gatedBroker {
	return &gatedBroker{
		gate:    make(chan struct{}),
		entered: make(chan uint64, 16),
		fills:   make(chan schema.Fill),
	}
}

func (b *gatedBroker) Submit(ctx context.Context, intent schema.OrderIntent) (OrderHandle, error) {
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		m := b.maxSeen.Load()
		if n <= m || b.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	b.mu.Lock()
	b.order = append(b.order, intent.OrderID)
	b.mu.Unlock()
	b.entered <- intent.OrderID

	if b.ignoreCt {
		<-b.gate
	} else {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return OrderHandle{}, ctx.Err()
		}
	}
	return OrderHandle{OrderID: intent.OrderID, BrokerID: "B"}, nil
}

func (b *gatedBroker) Cancel(context.Context, OrderHandle) (bool, error) { return true, nil }

func (b *gatedBroker) Positions(context.Context) (map[schema.SymbolID]schema.Quantity, error) {
	return map[schema.SymbolID]schema.Quantity{1: 5}, nil
}

func (b *gatedBroker) Account(context.Context) (AccountState, error) {
	return AccountState{Cash: 10, Equity: 20}, nil
}

func (b *gatedBroker) Fills() <-chan schema.Fill { return b.fills }

func (b *gatedBroker) seen() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint64(nil), b.order...)
}

func submitAsync(s *Serialized, ctx context.Context, id uint64) <-chan error {
	out := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, schema.OrderIntent{OrderID: id})
		out <- err
	}()
	return out
}

func waitQueued(t *testing.T, s *Serialized, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Waiting() == n }, time.Second, time.Millisecond)
}

func TestSerializedFIFO(t *testing.T) {
	inner := newGatedBroker()
	s := NewSerialized(inner, 0)
	ctx := context.Background()

	first := submitAsync(s, ctx, 1)
	<-inner.entered
	second := submitAsync(s, ctx, 2)
	waitQueued(t, s, 1)
	third := submitAsync(s, ctx, 3)
	waitQueued(t, s, 2)

	close(inner.gate)
	for _, ch := range []<-chan error{first, second, third} {
		require.NoError(t, <-ch)
	}
	assert.Equal(t, []uint64{1, 2, 3}, inner.seen())
	assert.Equal(t, int32(1), inner.maxSeen.Load())
}

func TestSerializedMutualExclusion(t *testing.T) {
	inner := newGatedBroker()
	close(inner.gate)
	s := NewSerialized(inner, time.Second)

	var wg sync.WaitGroup
	for i := uint64(1); i <= 32; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			_, err := s.Submit(context.Background(), schema.OrderIntent{OrderID: id})
			assert.NoError(t, err)
			<-inner.entered
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), inner.maxSeen.Load())
	assert.Len(t, inner.seen(), 32)
}

func TestQueuedTimeoutLeavesCallAheadIntact(t *testing.T) {
	inner := newGatedBroker()
	s := NewSerialized(inner, 0)

	ahead := submitAsync(s, context.Background(), 1)
	<-inner.entered

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.Submit(ctx, schema.OrderIntent{OrderID: 2})
	assert.ErrorIs(t, err, exception.ErrTimeout)

	close(inner.gate)
	require.NoError(t, <-ahead)
	assert.Equal(t, []uint64{1}, inner.seen())
}

func TestOperatorTimeoutOnHungCall(t *testing.T) {
	inner := newGatedBroker()
	inner.ignoreCt = true
	s := NewSerialized(inner, 30*time.Millisecond)

	start := time.Now()
	_, err := s.Submit(context.Background(), schema.OrderIntent{OrderID: 1})
	assert.ErrorIs(t, err, exception.ErrTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, s.InFlight())

	// the hung call still owns the connection
	_, err = s.Positions(context.Background())
	assert.ErrorIs(t, err, exception.ErrTimeout)

	close(inner.gate)
	require.NoError(t, s.Idle(context.Background()))
	pos, err := s.Positions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schema.Quantity(5), pos[1])
}

type chanAsync struct {
	submit chan Result[OrderHandle]
}

func (a *chanAsync) SubmitAsync(schema.OrderIntent) <-chan Result[OrderHandle] { return a.submit }

func (a *chanAsync) CancelAsync(OrderHandle) <-chan Result[bool] {
	ch := make(chan Result[bool], 1)
	ch <- Result[bool]{Value: true}
	return ch
}

func (a *chanAsync) PositionsAsync() <-chan Result[map[schema.SymbolID]schema.Quantity] {
	ch := make(chan Result[map[schema.SymbolID]schema.Quantity], 1)
	ch <- Result[map[schema.SymbolID]schema.Quantity]{Err: exception.ErrConnection}
	return ch
}

func (a *chanAsync) AccountAsync() <-chan Result[AccountState] {
	ch := make(chan Result[AccountState], 1)
	close(ch)
	return ch
}

func (a *chanAsync) Fills() <-chan schema.Fill { return nil }

func TestFromAsyncMatchesBlockingSemantics(t *testing.T) {
	a := &chanAsync{submit: make(chan Result[OrderHandle], 1)}
	b := FromAsync(a)

	a.submit <- Result[OrderHandle]{Value: OrderHandle{OrderID: 1, BrokerID: "x"}}
	h, err := b.Submit(context.Background(), schema.OrderIntent{OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, "x", h.BrokerID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = b.Submit(ctx, schema.OrderIntent{OrderID: 2})
	assert.ErrorIs(t, err, exception.ErrTimeout)

	ok, err := b.Cancel(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = b.Positions(context.Background())
	assert.ErrorIs(t, err, exception.ErrConnection)

	_, err = b.Account(context.Background())
	assert.ErrorIs(t, err, exception.ErrConnection)

	assert.Nil(t, Updates(b))
}
