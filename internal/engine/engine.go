// Package engine runs the live control loop: ticks become bars, bars drive the
// strategy, and intents go out through the safe broker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"livebridge/internal/broker"
	"livebridge/internal/feed"
	"livebridge/internal/obs"
	"livebridge/internal/og"
	"livebridge/internal/portfolio"
	"livebridge/internal/risk"
	"livebridge/internal/safety"
	"livebridge/internal/schema"
	"livebridge/pkg/exception"

	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle of an engine.
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateDraining
	StateStopped
)

var stateNames = [...]string{"initializing", "running", "draining", "stopped"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

const (
	defaultDrainTimeout = 5 * time.Second
	drainPoll           = 10 * time.Millisecond
	day                 = int64(24 * time.Hour)
)

var (
	errKillSwitch = errors.New("kill switch tripped")
	errFeedDone   = errors.New("feed ended")
)

// Config tunes the engine loop.
type Config struct {
	StrategyID uint32 `json:"strategyId" yaml:"strategy_id"`
	// SealEvery seals bars of quiet symbols on the wall clock. Zero disables
	// it, which replayed or synthetic timestamps require.
	SealEvery    time.Duration `json:"sealEvery" yaml:"seal_every"`
	DriftEvery   time.Duration `json:"driftEvery" yaml:"drift_every"`
	DrainTimeout time.Duration `json:"drainTimeout" yaml:"drain_timeout"`
}

// Deps are the collaborators the engine owns for one session.
type Deps struct {
	Safe       *safety.SafeBroker
	Broker     *broker.Serialized
	Risk       *risk.State
	Portfolio  *portfolio.Portfolio
	Aggregator *feed.Aggregator
	Source     feed.Source
	Strategy   Strategy
	IDs        *og.IDGenerator
	Metrics    *obs.Metrics
	Journal    safety.Journal
	Clock      func() time.Time
}

// Engine drives one live session. It runs once.
type Engine struct {
	cfg  Config
	deps Deps

	state    atomic.Int32
	mu       sync.Mutex
	err      error
	cancel   context.CancelFunc
	dayStart schema.Notional
	dayKey   int64
}

// New validates deps.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Safe == nil || deps.Broker == nil || deps.Risk == nil || deps.Portfolio == nil ||
		deps.Aggregator == nil || deps.Source == nil || deps.Strategy == nil {
		return nil, fmt.Errorf("engine: missing dependency: %w", exception.ErrNilInstance)
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if deps.IDs == nil {
		deps.IDs = og.NewIDGenerator(0)
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{cfg: cfg, deps: deps, dayKey: -1}, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Err returns the error that stopped the engine, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Stop asks a running engine to drain and stop.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run blocks for the whole session. It returns nil after an operator stop or
// the end of the feed, an error matching exception.ErrKillSwitchTripped after
// a kill switch drain, and the fatal error otherwise.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	if !e.state.CompareAndSwap(int32(StateInitializing), int32(StateRunning)) {
		e.mu.Unlock()
		return fmt.Errorf("engine is %s: %w", e.State(), exception.ErrEngineStopped)
	}
	e.cancel = cancel
	e.mu.Unlock()

	e.dayStart = e.deps.Portfolio.Snapshot().Equity
	logs.Infof("engine running, equity %d", e.dayStart)

	// the reconciler outlives the bar loop so in-flight orders can resolve while draining
	recCtx, stopRec := context.WithCancel(context.Background())
	defer stopRec()
	recErr := make(chan error, 1)
	go func() { recErr <- e.deps.Safe.RunReconciler(recCtx) }()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return e.runFeed(gctx) })
	g.Go(func() error { return e.runBars(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		e.deps.Aggregator.Close()
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-recErr:
			recErr <- err
			return fmt.Errorf("reconciler: %w", err)
		case <-gctx.Done():
			return nil
		}
	})
	if e.cfg.SealEvery > 0 {
		g.Go(func() error { return e.runSealer(gctx) })
	}
	if e.cfg.DriftEvery > 0 {
		g.Go(func() error { return e.runDriftCheck(gctx) })
	}

	err := g.Wait()
	switch {
	case err == nil, errors.Is(err, errFeedDone):
		e.drain(stopRec)
		return e.finish(nil)
	case errors.Is(err, errKillSwitch):
		e.deps.Metrics.SetKillSwitch(true)
		logs.Errorf("kill switch tripped, draining")
		e.drain(stopRec)
		return e.finish(fmt.Errorf("engine: %w", exception.ErrKillSwitchTripped))
	default:
		logs.Errorf("engine fatal error, err: %+v", err)
		stopRec()
		e.sweep()
		return e.finish(err)
	}
}

func (e *Engine) finish(err error) error {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
	e.state.Store(int32(StateStopped))
	logs.Infof("engine stopped")
	return err
}

func (e *Engine) runFeed(ctx context.Context) error {
	agg := e.deps.Aggregator
	src := feed.Tap(e.deps.Source, func(t schema.Tick) { e.record(t, t.TsEvent) })
	err := agg.Consume(ctx, src)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	agg.Flush()
	agg.Close()
	return nil
}

func (e *Engine) runBars(ctx context.Context) error {
	bars := e.deps.Aggregator.Bars()
	for {
		select {
		case <-ctx.Done():
			return nil
		case bar, ok := <-bars:
			if !ok {
				return errFeedDone
			}
			if err := e.onBar(ctx, bar); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) onBar(ctx context.Context, bar schema.Bar) error {
	received := time.Now()
	e.record(bar, bar.End)
	e.deps.Risk.UpdateMark(bar.SymbolID, bar.Close)
	e.deps.Portfolio.Mark(bar.SymbolID, bar.Close)

	snap := e.deps.Portfolio.Snapshot()
	if key := bar.Start / day; key != e.dayKey {
		if e.dayKey >= 0 {
			e.dayStart = snap.Equity
		}
		e.dayKey = key
	}
	if e.deps.Risk.UpdatePnL(snap.Equity - e.dayStart) {
		return errKillSwitch
	}
	if e.deps.Risk.KillSwitchTripped() {
		return errKillSwitch
	}

	for _, intent := range e.deps.Strategy.OnBar(bar, snap) {
		if intent.OrderID == 0 {
			intent.OrderID = e.deps.IDs.Next()
		}
		if intent.StrategyID == 0 {
			intent.StrategyID = e.cfg.StrategyID
		}
		e.record(intent, e.deps.Clock().UnixNano())

		_, err := e.deps.Safe.Submit(ctx, intent)
		e.deps.Metrics.ObserveBarToOrder(time.Since(received))
		switch {
		case err == nil:
		case errors.Is(err, exception.ErrKillSwitchTripped):
			return errKillSwitch
		case errors.Is(err, exception.ErrBrokerUnreachable):
			return err
		case errors.Is(err, exception.ErrRiskRejected):
			logs.Infof("order %d rejected, err: %+v", intent.OrderID, err)
		default:
			logs.Errorf("submit order %d, err: %+v", intent.OrderID, err)
		}
	}
	return nil
}

func (e *Engine) runSealer(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SealEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.deps.Aggregator.SealDue(e.deps.Clock().UnixNano())
		}
	}
}

func (e *Engine) runDriftCheck(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.DriftEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.deps.Safe.CheckDrift(ctx); err != nil && ctx.Err() == nil {
				logs.Errorf("drift check, err: %+v", err)
			}
		}
	}
}

// drain waits for in-flight broker calls and open reservations up to the
// drain timeout, then stops the reconciler and sweeps what is left.
func (e *Engine) drain(stopRec context.CancelFunc) {
	e.state.Store(int32(StateDraining))
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DrainTimeout)
	defer cancel()

	if err := e.deps.Broker.Idle(ctx); err != nil {
		logs.Errorf("broker still busy after %s", e.cfg.DrainTimeout)
	}
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for e.deps.Risk.Snapshot().Reservations > 0 {
		select {
		case <-ctx.Done():
			logs.Errorf("%d reservations open after %s", e.deps.Risk.Snapshot().Reservations, e.cfg.DrainTimeout)
			stopRec()
			e.sweep()
			return
		case <-ticker.C:
		}
	}
	stopRec()
	e.sweep()
}

func (e *Engine) sweep() {
	released := e.deps.Risk.SweepStale(e.deps.Clock().UnixNano(), 0)
	if len(released) > 0 {
		logs.Infof("released %d stale reservations: %v", len(released), released)
	}
}

func (e *Engine) record(v any, ts int64) {
	if e.deps.Journal != nil {
		e.deps.Journal.Record(v, ts)
	}
}
