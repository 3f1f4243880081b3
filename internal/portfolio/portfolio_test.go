package portfolio

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"livebridge/internal/recorder"
	"livebridge/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sym schema.SymbolID = 1

func fill(id uint64, side schema.OrderSide, price schema.Price, qty schema.Quantity) schema.Fill {
	return schema.Fill{FillID: id, OrderID: id, SymbolID: sym, Side: side, Price: price, Qty: qty}
}

func TestApplyFillIsIdempotent(t *testing.T) {
	p := New(10_000)
	f := fill(1, schema.OrderSideBuy, 100, 10)
	f.Fee = 5

	applied, err := p.ApplyFill(f)
	require.NoError(t, err)
	assert.True(t, applied)
	once := p.Snapshot()

	applied, err = p.ApplyFill(f)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, once, p.Snapshot())

	assert.Equal(t, schema.Notional(10_000-1000-5), once.Cash)
	assert.Equal(t, schema.Quantity(10), once.Qty(sym))
	assert.Equal(t, 1, once.FillCount)
	assert.True(t, p.Seen(1))
}

func TestAverageCostAndRealizedPnL(t *testing.T) {
	p := New(0)
	mustApply(t, p, fill(1, schema.OrderSideBuy, 100, 10))
	mustApply(t, p, fill(2, schema.OrderSideBuy, 130, 20))

	pos, ok := p.Snapshot().Position(sym)
	require.True(t, ok)
	assert.Equal(t, schema.Notional(3600), pos.Cost)
	assert.Equal(t, schema.Price(120), pos.AvgPrice())

	mustApply(t, p, fill(3, schema.OrderSideSell, 150, 15))
	pos, _ = p.Snapshot().Position(sym)
	assert.Equal(t, schema.Quantity(15), pos.Qty)
	assert.Equal(t, schema.Notional(450), pos.Realized)
	assert.Equal(t, schema.Notional(1800), pos.Cost)

	// flip through flat into a short of 5
	mustApply(t, p, fill(4, schema.OrderSideSell, 110, 20))
	snap := p.Snapshot()
	pos, _ = snap.Position(sym)
	assert.Equal(t, schema.Quantity(-5), pos.Qty)
	assert.Equal(t, schema.Notional(450-150), pos.Realized)
	assert.Equal(t, schema.Notional(-550), pos.Cost)
	assert.Equal(t, schema.Price(110), pos.AvgPrice())

	// cover the short at a profit
	mustApply(t, p, fill(5, schema.OrderSideBuy, 100, 5))
	snap = p.Snapshot()
	pos, _ = snap.Position(sym)
	assert.Zero(t, pos.Qty)
	assert.Zero(t, pos.Cost)
	assert.Equal(t, schema.Notional(350), pos.Realized)
	assert.Equal(t, schema.Notional(350), snap.Realized)
	assert.Equal(t, snap.Realized, snap.Cash)
	assert.Equal(t, snap.Cash, snap.Equity)
}

func TestUnrealizedUsesMarks(t *testing.T) {
	p := New(1000)
	mustApply(t, p, fill(1, schema.OrderSideBuy, 10, 10))

	snap := p.Snapshot()
	assert.Zero(t, snap.Unrealized)
	assert.Equal(t, schema.Notional(1000), snap.Equity)

	p.Mark(sym, 8)
	snap = p.Snapshot()
	assert.Equal(t, schema.Notional(-20), snap.Unrealized)
	assert.Equal(t, schema.Notional(980), snap.Equity)
	assert.Equal(t, schema.Notional(-20), snap.NetPnL())
}

func TestInvalidFillRejected(t *testing.T) {
	p := New(0)
	_, err := p.ApplyFill(fill(1, schema.OrderSideUnknown, 1, 1))
	assert.Error(t, err)
	_, err = p.ApplyFill(fill(2, schema.OrderSideBuy, 1, 0))
	assert.Error(t, err)
	assert.False(t, p.Seen(1))
}

func TestSnapshotConsistentUnderConcurrentFills(t *testing.T) {
	p := New(1_000_000)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				_, _ = p.ApplyFill(fill(uint64(w*1000+i+1), schema.OrderSideBuy, 10, 1))
			}
		}(w)
	}
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := p.Snapshot()
			// every applied fill moves exactly 10 of cash into one unit
			assert.Equal(t, schema.Notional(1_000_000), s.Cash+schema.Notional(s.Qty(sym))*10)
		}
	}()
	wg.Wait()
	close(stop)
	readers.Wait()

	assert.Equal(t, schema.Quantity(1000), p.Snapshot().Qty(sym))
}

func TestCompareReportsDriftWithoutMutating(t *testing.T) {
	p := New(5000)
	mustApply(t, p, fill(1, schema.OrderSideBuy, 100, 10))
	before := p.Snapshot()

	clean := p.Compare(BrokerView{Cash: 4000, HasCash: true, Positions: map[schema.SymbolID]schema.Quantity{sym: 10}})
	assert.True(t, clean.Clean(0))
	assert.Empty(t, clean.Records(1))

	report := p.Compare(BrokerView{
		Cash:      3990,
		HasCash:   true,
		Positions: map[schema.SymbolID]schema.Quantity{sym: 12, 2: 3, 3: 0},
	})
	assert.False(t, report.Clean(0))
	assert.False(t, report.Clean(10))
	require.Len(t, report.Symbols, 2)
	assert.Equal(t, schema.Quantity(2), report.Symbols[0].Delta())
	assert.Equal(t, schema.SymbolID(2), report.Symbols[1].SymbolID)
	assert.Equal(t, schema.Notional(-10), report.CashDelta())
	assert.Len(t, report.Records(7), 3)

	assert.Equal(t, before, p.Snapshot())

	cashOnly := p.Compare(BrokerView{Cash: 3995, HasCash: true, Positions: map[schema.SymbolID]schema.Quantity{sym: 10}})
	assert.False(t, cashOnly.Clean(0))
	assert.True(t, cashOnly.Clean(5))
}

func TestCheckpointRoundTrip(t *testing.T) {
	p := New(1000)
	mustApply(t, p, fill(1, schema.OrderSideBuy, 10, 5))
	mustApply(t, p, fill(2, schema.OrderSideSell, 12, 2))

	path := filepath.Join(t.TempDir(), "state", "portfolio.json")
	cp := p.Checkpoint(9)
	require.NoError(t, WriteCheckpoint(path, cp))

	loaded, err := ReadCheckpoint(path)
	require.NoError(t, err)
	require.NoError(t, CompareCheckpoints(cp, loaded))

	restored := Restore(loaded)
	assert.Equal(t, p.Snapshot().Cash, restored.Snapshot().Cash)
	applied, err := restored.ApplyFill(fill(2, schema.OrderSideSell, 12, 2))
	require.NoError(t, err)
	assert.False(t, applied)

	mustApply(t, restored, fill(3, schema.OrderSideSell, 12, 1))
	assert.Error(t, CompareCheckpoints(cp, restored.Checkpoint(10)))
}

func TestRecoverFromWAL(t *testing.T) {
	dir := t.TempDir()
	w, err := recorder.NewWriter(recorder.Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Append(schema.Tick{SymbolID: sym, Price: 10, Size: 1}, 1))
	require.NoError(t, w.Append(fill(1, schema.OrderSideBuy, 10, 5), 2))
	require.NoError(t, w.Append(fill(1, schema.OrderSideBuy, 10, 5), 3))
	require.NoError(t, w.Append(fill(2, schema.OrderSideSell, 11, 5), 4))
	require.NoError(t, w.Close())

	res, err := Recover(context.Background(), RecoverConfig{WALDir: dir, InitialCash: 100})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, uint64(4), res.LastSeq)

	snap := res.Portfolio.Snapshot()
	assert.Equal(t, schema.Notional(105), snap.Cash)
	assert.Equal(t, schema.Notional(5), snap.Realized)
}

func mustApply(t *testing.T, p *Portfolio, f schema.Fill) {
	t.Helper()
	applied, err := p.ApplyFill(f)
	require.NoError(t, err)
	require.True(t, applied)
}
