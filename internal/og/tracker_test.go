package og

import (
	"sync"
	"testing"

	"livebridge/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intent(id uint64, qty schema.Quantity) schema.OrderIntent {
	return schema.OrderIntent{OrderID: id, SymbolID: 1, Side: schema.OrderSideBuy, Type: schema.OrderTypeLimit, Price: 10, Qty: qty}
}

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	o, err := tr.Track(intent(1, 10), 1)
	require.NoError(t, err)
	assert.Equal(t, OrderStateNew, o.State)

	_, err = tr.Track(intent(1, 10), 1)
	assert.ErrorIs(t, err, ErrDuplicateOrder)

	o, err = tr.MarkSent(1, "B-1", 2)
	require.NoError(t, err)
	assert.Equal(t, OrderStateSent, o.State)
	id, ok := tr.ByBrokerID("B-1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), id)

	o, err = tr.ApplyFill(schema.Fill{OrderID: 1, Qty: 4}, 3)
	require.NoError(t, err)
	assert.Equal(t, OrderStatePartFilled, o.State)
	assert.Equal(t, schema.Quantity(6), o.LeavesQty)

	// late ack must not move a partially filled order backwards
	o, err = tr.ApplyAck(schema.OrderAck{OrderID: 1, Status: schema.OrderAckStatusAcked}, 4)
	require.NoError(t, err)
	assert.Equal(t, OrderStatePartFilled, o.State)

	o, err = tr.ApplyFill(schema.Fill{OrderID: 1, Qty: 6}, 5)
	require.NoError(t, err)
	assert.Equal(t, OrderStateFilled, o.State)
	assert.Equal(t, "filled", o.State.String())

	_, err = tr.ApplyFill(schema.Fill{OrderID: 1, Qty: 1}, 6)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, tr.Open())
}

func TestTrackerFillAfterCancel(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Track(intent(1, 10), 1)
	require.NoError(t, err)
	_, err = tr.ApplyAck(schema.OrderAck{OrderID: 1, Status: schema.OrderAckStatusCanceled}, 2)
	require.NoError(t, err)

	o, err := tr.ApplyFill(schema.Fill{OrderID: 1, Qty: 3}, 3)
	require.NoError(t, err)
	assert.Equal(t, OrderStateCanceled, o.State)
	assert.Equal(t, schema.Quantity(3), o.FilledQty)
}

func TestTrackerOpenFailAndPrune(t *testing.T) {
	tr := NewTracker()
	for i := uint64(1); i <= 3; i++ {
		_, err := tr.Track(intent(i, 1), int64(i))
		require.NoError(t, err)
	}
	_, err := tr.MarkSent(2, "B-2", 5)
	require.NoError(t, err)
	_, err = tr.Fail(3, 5)
	require.NoError(t, err)

	open := tr.Open()
	require.Len(t, open, 2)
	assert.Equal(t, uint64(1), open[0].ID)
	assert.Equal(t, uint64(2), open[1].ID)

	assert.Equal(t, 0, tr.Prune(5))
	assert.Equal(t, 1, tr.Prune(6))
	_, ok := tr.Order(3)
	assert.False(t, ok)

	_, err = tr.ApplyAck(schema.OrderAck{OrderID: 99, Status: schema.OrderAckStatusAcked}, 1)
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestIDGeneratorUnique(t *testing.T) {
	g := NewIDGenerator(100)
	var (
		mu   sync.Mutex
		seen = make(map[uint64]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := g.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 400)
	assert.Equal(t, uint64(501), g.Next())
}
