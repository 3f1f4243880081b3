package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"livebridge/internal/broker"
	"livebridge/internal/portfolio"
	"livebridge/internal/schema"
	"livebridge/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaper(t *testing.T, cfg Config) *Broker {
	t.Helper()
	b, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func nextFill(t *testing.T, b *Broker) schema.Fill {
	t.Helper()
	select {
	case f := <-b.Fills():
		return f
	case <-time.After(time.Second):
		t.Fatal("no fill delivered")
		return schema.Fill{}
	}
}

func TestMarketOrderFillsAtMark(t *testing.T) {
	b := newPaper(t, Config{InitialCash: 1_000_000, FeeBps: 10})
	b.SetMark(1, 100, 1)

	h, err := b.Submit(context.Background(), schema.OrderIntent{
		OrderID: 7, SymbolID: 1, Side: schema.OrderSideBuy, Type: schema.OrderTypeMarket, Qty: 50,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, h.BrokerID)
	assert.Equal(t, uint64(7), h.OrderID)

	f := nextFill(t, b)
	assert.Equal(t, uint64(7), f.OrderID)
	assert.Equal(t, schema.Price(100), f.Price)
	assert.Equal(t, schema.Quantity(50), f.Qty)
	assert.Equal(t, schema.Fee(5), f.Fee)

	pos, err := b.Positions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schema.Quantity(50), pos[1])

	acct, err := b.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schema.Notional(1_000_000-5_000-5), acct.Cash)
	assert.Equal(t, schema.Notional(1_000_000-5), acct.Equity)
}

func TestMarketOrderWithoutMarkIsRejected(t *testing.T) {
	b := newPaper(t, Config{InitialCash: 1_000_000})
	_, err := b.Submit(context.Background(), schema.OrderIntent{
		OrderID: 1, SymbolID: 1, Side: schema.OrderSideBuy, Type: schema.OrderTypeMarket, Qty: 1,
	})
	assert.True(t, errors.Is(err, exception.ErrRejectedByVenue))
}

func TestInsufficientBuyingPower(t *testing.T) {
	b := newPaper(t, Config{InitialCash: 1_000})
	b.SetMark(1, 100, 1)
	_, err := b.Submit(context.Background(), schema.OrderIntent{
		OrderID: 1, SymbolID: 1, Side: schema.OrderSideBuy, Type: schema.OrderTypeMarket, Qty: 11,
	})
	assert.True(t, errors.Is(err, exception.ErrRejectedByVenue))
}

func TestLimitOrderRestsUntilCrossed(t *testing.T) {
	b := newPaper(t, Config{InitialCash: 1_000_000})
	b.SetMark(1, 105, 1)

	_, err := b.Submit(context.Background(), schema.OrderIntent{
		OrderID: 3, SymbolID: 1, Side: schema.OrderSideBuy, Type: schema.OrderTypeLimit,
		TimeInForce: schema.TimeInForceGTC, Price: 100, Qty: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Resting())

	b.SetMark(1, 102, 2)
	assert.Equal(t, 1, b.Resting())

	b.SetMark(1, 99, 3)
	assert.Equal(t, 0, b.Resting())

	f := nextFill(t, b)
	assert.Equal(t, uint64(3), f.OrderID)
	assert.Equal(t, schema.Price(100), f.Price)
	assert.Equal(t, int64(3), f.TsEvent)
}

func TestCancelRestingOrder(t *testing.T) {
	b := newPaper(t, Config{InitialCash: 1_000_000})
	b.SetMark(1, 105, 1)

	h, err := b.Submit(context.Background(), schema.OrderIntent{
		OrderID: 4, SymbolID: 1, Side: schema.OrderSideSell, Type: schema.OrderTypeLimit,
		TimeInForce: schema.TimeInForceGTC, Price: 110, Qty: 10,
	})
	require.NoError(t, err)

	ok, err := b.Cancel(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case u := <-b.Updates():
		assert.Equal(t, schema.OrderAckStatusCanceled, u.Status)
		assert.Equal(t, h, u.Handle)
	case <-time.After(time.Second):
		t.Fatal("no cancel update")
	}

	ok, err = b.Cancel(context.Background(), h)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotNil(t, broker.Updates(b))
}

func TestIOCLimitExpires(t *testing.T) {
	b := newPaper(t, Config{InitialCash: 1_000_000})
	b.SetMark(1, 105, 1)

	_, err := b.Submit(context.Background(), schema.OrderIntent{
		OrderID: 5, SymbolID: 1, Side: schema.OrderSideBuy, Type: schema.OrderTypeLimit,
		TimeInForce: schema.TimeInForceIOC, Price: 100, Qty: 1,
	})
	require.NoError(t, err)
	u := <-b.Updates()
	assert.Equal(t, schema.OrderAckStatusExpired, u.Status)
	assert.Equal(t, 0, b.Resting())
}

func TestFaultInjection(t *testing.T) {
	b := newPaper(t, Config{InitialCash: 1_000_000, Faults: FaultConfig{Seed: 1, ConnectionErrRate: 1}})
	b.SetMark(1, 100, 1)
	_, err := b.Submit(context.Background(), schema.OrderIntent{
		OrderID: 1, SymbolID: 1, Side: schema.OrderSideBuy, Type: schema.OrderTypeMarket, Qty: 1,
	})
	assert.True(t, errors.Is(err, exception.ErrConnection))

	b2 := newPaper(t, Config{InitialCash: 1_000_000, Faults: FaultConfig{Seed: 1, DuplicateFillRate: 1}})
	b2.SetMark(1, 100, 1)
	_, err = b2.Submit(context.Background(), schema.OrderIntent{
		OrderID: 1, SymbolID: 1, Side: schema.OrderSideBuy, Type: schema.OrderTypeMarket, Qty: 1,
	})
	require.NoError(t, err)
	first := nextFill(t, b2)
	second := nextFill(t, b2)
	assert.Equal(t, first, second)
}

func TestFaultConfigValidate(t *testing.T) {
	assert.NoError(t, FaultConfig{RejectRate: 0.5}.Validate())
	assert.Error(t, FaultConfig{RejectRate: 1.5}.Validate())
	assert.Error(t, FaultConfig{MaxLatency: -time.Second}.Validate())

	_, err := New(Config{Faults: FaultConfig{DuplicateFillRate: -1}})
	assert.Error(t, err)
}

func TestLatencyHonorsContext(t *testing.T) {
	b := newPaper(t, Config{InitialCash: 1_000_000, Faults: FaultConfig{Seed: 3, MaxLatency: time.Hour}})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.Positions(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSeedReplacesBook(t *testing.T) {
	b := newPaper(t, Config{InitialCash: 1_000})
	b.Seed(500, map[schema.SymbolID]schema.Quantity{1: 4, 2: 0})
	b.SetMark(1, 10, 1)

	pos, err := b.Positions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[schema.SymbolID]schema.Quantity{1: 4}, pos)

	acct, err := b.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schema.Notional(500), acct.Cash)
	assert.Equal(t, schema.Notional(540), acct.Equity)
}

func TestFillIDSeed(t *testing.T) {
	b := newPaper(t, Config{InitialCash: 1_000_000, FillIDSeed: 500})
	b.SetMark(1, 10, 1)
	for i := uint64(1); i <= 2; i++ {
		_, err := b.Submit(context.Background(), schema.OrderIntent{
			OrderID: i, SymbolID: 1, Side: schema.OrderSideBuy, Type: schema.OrderTypeMarket, Qty: 1,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(501), nextFill(t, b).FillID)
	assert.Equal(t, uint64(502), nextFill(t, b).FillID)
}

func TestResumedSessionFillsAreNotDuplicates(t *testing.T) {
	order := func(id uint64) schema.OrderIntent {
		return schema.OrderIntent{OrderID: id, SymbolID: 1, Side: schema.OrderSideBuy, Type: schema.OrderTypeMarket, Qty: 10}
	}

	first := newPaper(t, Config{InitialCash: 1_000_000})
	first.SetMark(1, 100, 1)
	_, err := first.Submit(context.Background(), order(1))
	require.NoError(t, err)
	f1 := nextFill(t, first)

	pf := portfolio.New(1_000_000)
	applied, err := pf.ApplyFill(f1)
	require.NoError(t, err)
	require.True(t, applied)
	first.Close()

	resumed := portfolio.Restore(pf.Checkpoint(0))
	time.Sleep(time.Millisecond)

	second := newPaper(t, Config{InitialCash: 1_000_000})
	second.SetMark(1, 100, 2)
	_, err = second.Submit(context.Background(), order(2))
	require.NoError(t, err)
	f2 := nextFill(t, second)

	assert.NotEqual(t, f1.FillID, f2.FillID)
	applied, err = resumed.ApplyFill(f2)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, schema.Quantity(20), resumed.Snapshot().Qty(1))
}
