package chaos

import (
	"context"
	"testing"
	"time"

	"livebridge/internal/feed"
	"livebridge/internal/obs"
	"livebridge/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ticks(n int) feed.SliceSource {
	out := make(feed.SliceSource, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, schema.Tick{SymbolID: 1, Price: schema.Price(100 + i), Size: 1, TsEvent: int64(i) * int64(time.Second)})
	}
	return out
}

func collect(t *testing.T, src feed.Source) []schema.Tick {
	t.Helper()
	var out []schema.Tick
	require.NoError(t, src.Run(context.Background(), func(tk schema.Tick) error {
		out = append(out, tk)
		return nil
	}))
	return out
}

func TestPassThroughWhenDisabled(t *testing.T) {
	cfg := Config{Seed: 1}
	assert.False(t, cfg.Enabled())
	eng, err := NewEngine(cfg)
	require.NoError(t, err)
	assert.Equal(t, []schema.Tick(ticks(20)), collect(t, Wrap(ticks(20), eng)))
}

func TestReorderKeepsEveryTick(t *testing.T) {
	eng, err := NewEngine(Config{Seed: 7, ReorderWindow: 4})
	require.NoError(t, err)
	got := collect(t, Wrap(ticks(50), eng))
	assert.ElementsMatch(t, []schema.Tick(ticks(50)), got)
	assert.NotEqual(t, []schema.Tick(ticks(50)), got)
}

func TestDropAndDuplicate(t *testing.T) {
	eng, err := NewEngine(Config{Seed: 3, DropRate: 1})
	require.NoError(t, err)
	assert.Empty(t, collect(t, Wrap(ticks(10), eng)))

	eng, err = NewEngine(Config{Seed: 3, DuplicateRate: 1})
	require.NoError(t, err)
	assert.Len(t, collect(t, Wrap(ticks(10), eng)), 20)
}

func TestDelayOnlyMovesForward(t *testing.T) {
	eng, err := NewEngine(Config{Seed: 11, MaxDelay: 500 * time.Millisecond})
	require.NoError(t, err)
	in := ticks(30)
	got := collect(t, Wrap(in, eng))
	require.Len(t, got, len(in))
	for i := range in {
		assert.GreaterOrEqual(t, got[i].TsEvent, in[i].TsEvent)
		assert.LessOrEqual(t, got[i].TsEvent, in[i].TsEvent+int64(500*time.Millisecond))
	}
}

func TestAggregatorCountsReorderedTicksAsLate(t *testing.T) {
	metrics := obs.NewMetrics()
	agg, err := feed.NewAggregator(feed.Config{Interval: 5 * time.Second}, metrics)
	require.NoError(t, err)
	eng, err := NewEngine(Config{Seed: 5, ReorderWindow: 8})
	require.NoError(t, err)

	var accepted int
	err = Wrap(ticks(60), eng).Run(context.Background(), func(tk schema.Tick) error {
		ok, err := agg.OnTick(tk)
		if ok {
			accepted++
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(60-accepted), metrics.Snapshot().TicksLate)
	assert.Less(t, accepted, 60)
}

func TestValidate(t *testing.T) {
	_, err := NewEngine(Config{DropRate: 1.5})
	assert.Error(t, err)
	_, err = NewEngine(Config{ReorderWindow: -1})
	assert.Error(t, err)
	_, err = NewEngine(Config{MaxDelay: -time.Second})
	assert.Error(t, err)
}
