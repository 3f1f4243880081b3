package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"livebridge/internal/broker"
	"livebridge/internal/broker/paper"
	"livebridge/internal/feed"
	"livebridge/internal/obs"
	"livebridge/internal/portfolio"
	"livebridge/internal/recorder"
	"livebridge/internal/risk"
	"livebridge/internal/safety"
	"livebridge/internal/schema"
	"livebridge/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sec = int64(time.Second)

type memJournal struct {
	mu     sync.Mutex
	events []any
}

func (j *memJournal) Record(v any, _ int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, v)
}

func (j *memJournal) ticks() []schema.Tick {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []schema.Tick
	for _, e := range j.events {
		if tk, ok := e.(schema.Tick); ok {
			out = append(out, tk)
		}
	}
	return out
}

func (j *memJournal) bars() []schema.Bar {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []schema.Bar
	for _, e := range j.events {
		if b, ok := e.(schema.Bar); ok {
			out = append(out, b)
		}
	}
	return out
}

type harness struct {
	engine    *Engine
	paper     *paper.Broker
	risk      *risk.State
	portfolio *portfolio.Portfolio
	metrics   *obs.Metrics
	journal   *memJournal
}

type setup struct {
	risk     risk.Config
	paper    paper.Config
	safety   safety.Config
	engine   Config
	strategy Strategy
	source   func(h *harness) feed.Source
	wal      safety.Journal
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()
	if s.paper.InitialCash == 0 {
		s.paper.InitialCash = 1_000_000
	}
	pb, err := paper.New(s.paper)
	require.NoError(t, err)
	t.Cleanup(pb.Close)

	h := &harness{
		paper:     pb,
		portfolio: portfolio.New(s.paper.InitialCash),
		metrics:   obs.NewMetrics(),
		journal:   &memJournal{},
	}
	h.risk, err = risk.NewState(s.risk)
	require.NoError(t, err)

	serial := broker.NewSerialized(pb, time.Second)
	sinks := safety.Journals{h.journal}
	if s.wal != nil {
		sinks = append(sinks, s.wal)
	}
	journal := ObservedJournal(h.metrics, sinks)
	safe, err := safety.New(s.safety, safety.Deps{
		Broker:    serial,
		Risk:      h.risk,
		Portfolio: h.portfolio,
		Metrics:   h.metrics,
		Journal:   journal,
	})
	require.NoError(t, err)

	agg, err := feed.NewAggregator(feed.Config{Interval: time.Minute}, h.metrics)
	require.NoError(t, err)

	src := feed.Tap(s.source(h), func(tk schema.Tick) { pb.SetMark(tk.SymbolID, tk.Price, tk.TsEvent) })
	h.engine, err = New(s.engine, Deps{
		Safe:       safe,
		Broker:     serial,
		Risk:       h.risk,
		Portfolio:  h.portfolio,
		Aggregator: agg,
		Source:     src,
		Strategy:   s.strategy,
		Metrics:    h.metrics,
		Journal:    journal,
	})
	require.NoError(t, err)
	return h
}

// buyOnce buys qty on the first bar it sees.
func buyOnce(qty schema.Quantity) Strategy {
	var once sync.Once
	return StrategyFunc(func(bar schema.Bar, _ portfolio.Snapshot) []schema.OrderIntent {
		var out []schema.OrderIntent
		once.Do(func() {
			out = []schema.OrderIntent{{SymbolID: bar.SymbolID, Side: schema.OrderSideBuy, Type: schema.OrderTypeMarket, Qty: qty}}
		})
		return out
	})
}

// gatedSource emits ticks in order and, before tick i, waits for gates[i].
type gatedSource struct {
	ticks []schema.Tick
	gates map[int]func() bool
}

func (s gatedSource) Run(ctx context.Context, emit func(schema.Tick) error) error {
	for i, tk := range s.ticks {
		if gate, ok := s.gates[i]; ok {
			deadline := time.Now().Add(2 * time.Second)
			for !gate() {
				if time.Now().After(deadline) {
					return fmt.Errorf("gate before tick %d never opened", i)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(2 * time.Millisecond):
				}
			}
		}
		if err := emit(tk); err != nil {
			return err
		}
	}
	return nil
}

func tick(price schema.Price, ts int64) schema.Tick {
	return schema.Tick{SymbolID: 1, Price: price, Size: 1, TsEvent: ts}
}

func TestEngineRunsFeedToCompletion(t *testing.T) {
	h := newHarness(t, setup{
		strategy: buyOnce(5),
		source: func(*harness) feed.Source {
			return feed.SliceSource{tick(100, 0), tick(101, 30*sec), tick(102, 60*sec), tick(103, 120*sec)}
		},
	})
	assert.Equal(t, StateInitializing, h.engine.State())

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Equal(t, StateStopped, h.engine.State())
	assert.NoError(t, h.engine.Err())

	bars := h.journal.bars()
	require.Len(t, bars, 3)
	assert.Equal(t, schema.Price(100), bars[0].Open)
	assert.Equal(t, schema.Price(101), bars[0].Close)
	assert.Equal(t, int64(120*sec), bars[2].Start)

	snap := h.portfolio.Snapshot()
	assert.Equal(t, schema.Quantity(5), snap.Qty(1))
	assert.Equal(t, 0, h.risk.Snapshot().Reservations)

	m := h.metrics.Snapshot()
	assert.Equal(t, uint64(4), m.EventCounts[schema.EventTick])
	assert.Equal(t, uint64(3), m.EventCounts[schema.EventBar])
	assert.Equal(t, uint64(1), m.EventCounts[schema.EventOrderIntent])
	assert.Equal(t, uint64(1), m.EventCounts[schema.EventFill])

	err := h.engine.Run(context.Background())
	assert.True(t, errors.Is(err, exception.ErrEngineStopped))
}

func TestRecordedSessionReplaysIntoSameBars(t *testing.T) {
	dir := t.TempDir()
	w, err := recorder.NewWriter(recorder.Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	feedTicks := feed.SliceSource{tick(100, 0), tick(99, 10*sec), tick(104, 70*sec), tick(101, 130*sec), tick(102, 150*sec)}
	h := newHarness(t, setup{
		strategy: buyOnce(2),
		source:   func(*harness) feed.Source { return feedTicks },
		wal:      w,
	})
	require.NoError(t, h.engine.Run(context.Background()))
	require.NoError(t, w.Close())

	assert.Equal(t, []schema.Tick(feedTicks), h.journal.ticks())
	live := h.journal.bars()
	require.Len(t, live, 3)

	src, err := feed.NewReplaySource(recorder.ReplayConfig{Dir: dir})
	require.NoError(t, err)
	agg, err := feed.NewAggregator(feed.Config{Interval: time.Minute}, nil)
	require.NoError(t, err)
	defer agg.Close()
	require.NoError(t, agg.Consume(context.Background(), src))
	agg.Flush()

	var replayed []schema.Bar
	for len(replayed) < len(live) {
		select {
		case b := <-agg.Bars():
			replayed = append(replayed, b)
		case <-time.After(time.Second):
			t.Fatalf("replayed %d of %d bars", len(replayed), len(live))
		}
	}
	assert.Equal(t, live, replayed)
}

func TestEngineDrainsOnKillSwitch(t *testing.T) {
	h := newHarness(t, setup{
		risk:     risk.Config{MaxDailyLoss: 100},
		strategy: buyOnce(10),
		source: func(hh *harness) feed.Source {
			return gatedSource{
				ticks: []schema.Tick{tick(100, 0), tick(100, 60*sec), tick(50, 120*sec), tick(50, 180*sec)},
				gates: map[int]func() bool{
					2: func() bool { return hh.portfolio.Snapshot().Qty(1) == 10 },
				},
			}
		},
	})

	err := h.engine.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrKillSwitchTripped))
	assert.Equal(t, StateStopped, h.engine.State())
	assert.True(t, h.risk.KillSwitchTripped())
	assert.True(t, h.metrics.Snapshot().KillSwitch)
	assert.Equal(t, schema.Quantity(10), h.portfolio.Snapshot().Qty(1))
}

func TestEngineStopsOnUnreachableBroker(t *testing.T) {
	h := newHarness(t, setup{
		paper:    paper.Config{Faults: paper.FaultConfig{Seed: 1, ConnectionErrRate: 1}},
		safety:   safety.Config{MaxConsecutiveConnFailures: 1},
		strategy: buyOnce(1),
		source: func(*harness) feed.Source {
			return feed.SliceSource{tick(100, 0), tick(100, 60*sec)}
		},
	})

	err := h.engine.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrBrokerUnreachable))
	assert.Equal(t, StateStopped, h.engine.State())
	assert.Equal(t, err, h.engine.Err())
	assert.Equal(t, 0, h.risk.Snapshot().Reservations)
}

func TestEngineOperatorStop(t *testing.T) {
	h := newHarness(t, setup{
		strategy: Hold{},
		source: func(*harness) feed.Source {
			reg := schema.NewRegistry()
			venue, _ := reg.AddVenue("PAPER")
			_, _ = reg.AddSymbol("SIM", venue, schema.ScaleSpec{})
			src, err := feed.NewSimSource(reg, feed.SimConfig{BasePrice: 100, MaxStep: 1, Every: time.Millisecond, Seed: 1})
			require.NoError(t, err)
			return src
		},
	})

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(context.Background()) }()
	require.Eventually(t, func() bool { return h.engine.State() == StateRunning }, time.Second, time.Millisecond)

	h.engine.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, StateStopped, h.engine.State())
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.True(t, errors.Is(err, exception.ErrNilInstance))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "unknown", State(9).String())
}
