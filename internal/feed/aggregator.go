// Package feed turns tick streams into fixed-interval bars.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"livebridge/internal/obs"
	"livebridge/internal/schema"
	"livebridge/pkg/exception"
)

const defaultOutputBuffer = 1024

// Config controls bar aggregation.
type Config struct {
	Interval     time.Duration `json:"interval" yaml:"interval"`
	MaxSymbols   int           `json:"maxSymbols" yaml:"max_symbols"`
	OutputBuffer int           `json:"outputBuffer" yaml:"output_buffer"`
}

// Validate checks the interval is usable.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval %s: %w", c.Interval, exception.ErrInvalidInterval)
	}
	if c.MaxSymbols < 0 || c.OutputBuffer < 0 {
		return fmt.Errorf("invalid feed config: max_symbols and output_buffer must be >= 0")
	}
	return nil
}

// Aggregator builds bars per symbol. An interval is [floor(ts/interval)*interval,
// +interval). A bar is sealed when a tick of a later interval arrives, when
// SealDue passes its end, or on Flush. Ticks earlier than the open bar's start,
// or earlier than the end of the last sealed bar, are discarded.
type Aggregator struct {
	interval int64
	buf      *BarBuffer
	out      chan schema.Bar
	done     chan struct{}
	closed   atomic.Bool
	metrics  *obs.Metrics
}

// NewAggregator validates cfg. metrics may be nil.
func NewAggregator(cfg Config, metrics *obs.Metrics) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OutputBuffer == 0 {
		cfg.OutputBuffer = defaultOutputBuffer
	}
	return &Aggregator{
		interval: cfg.Interval.Nanoseconds(),
		buf:      NewBarBuffer(cfg.MaxSymbols),
		out:      make(chan schema.Bar, cfg.OutputBuffer),
		done:     make(chan struct{}),
		metrics:  metrics,
	}, nil
}

// Bars is the ordered stream of sealed bars. It is closed by Close.
func (a *Aggregator) Bars() <-chan schema.Bar {
	return a.out
}

// Interval returns the bar width.
func (a *Aggregator) Interval() time.Duration {
	return time.Duration(a.interval)
}

// OnTick folds a tick into its symbol's bar. It reports false when the tick
// was discarded as late. Sealing a bar blocks until the consumer takes it.
func (a *Aggregator) OnTick(t schema.Tick) (bool, error) {
	if t.Price <= 0 || t.Size < 0 || t.TsEvent < 0 {
		return false, fmt.Errorf("tick of symbol %d: %w", t.SymbolID, exception.ErrInvalidArgument)
	}
	s := a.buf.get(t.SymbolID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.closed.Load() {
		return false, exception.ErrFeedClosed
	}

	start := t.TsEvent - t.TsEvent%a.interval
	if s.open {
		switch {
		case t.TsEvent < s.bar.Start:
			a.metrics.IncLateTick()
			return false, nil
		case start == s.bar.Start:
			extend(&s.bar, t)
			return true, nil
		}
		// the next bar takes over the sealed bar's room
		a.sealLocked(s)
	} else {
		if t.TsEvent < s.lastEnd {
			a.metrics.IncLateTick()
			return false, nil
		}
		if err := a.buf.reserve(); err != nil {
			return false, fmt.Errorf("tick of symbol %d: %w", t.SymbolID, err)
		}
	}

	s.bar = schema.Bar{
		SymbolID: t.SymbolID,
		Trades:   1,
		Open:     t.Price,
		High:     t.Price,
		Low:      t.Price,
		Close:    t.Price,
		Volume:   t.Size,
		Start:    start,
		End:      start + a.interval,
	}
	s.open = true
	return true, nil
}

// SealDue seals every open bar whose interval ended at or before now, in
// SymbolID order. It returns the number sealed.
func (a *Aggregator) SealDue(now int64) int {
	n := 0
	for _, id := range a.buf.symbols() {
		s, ok := a.buf.lookup(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		if s.open && now >= s.bar.End && !a.closed.Load() {
			a.sealLocked(s)
			a.buf.release()
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Flush seals every open bar regardless of time, in SymbolID order.
func (a *Aggregator) Flush() int {
	n := 0
	for _, id := range a.buf.symbols() {
		s, ok := a.buf.lookup(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		if s.open && !a.closed.Load() {
			a.sealLocked(s)
			a.buf.release()
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Open returns the number of bars in progress.
func (a *Aggregator) Open() int {
	return a.buf.Len()
}

// Partial returns a copy of the open bar of symbol.
func (a *Aggregator) Partial(symbol schema.SymbolID) (schema.Bar, bool) {
	s, ok := a.buf.lookup(symbol)
	if !ok {
		return schema.Bar{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return schema.Bar{}, false
	}
	return s.bar, true
}

// Close stops emission and closes the bar stream. Open bars are dropped;
// call Flush first to keep them.
func (a *Aggregator) Close() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}
	close(a.done)
	for _, id := range a.buf.symbols() {
		if s, ok := a.buf.lookup(id); ok {
			s.mu.Lock()
			if s.open {
				a.metrics.IncBarDropped()
				s.open = false
				a.buf.release()
			}
			s.mu.Unlock()
		}
	}
	close(a.out)
}

// Consume feeds every tick of src into the aggregator until src ends or ctx
// is done. A full bar buffer is fatal; invalid ticks are skipped.
func (a *Aggregator) Consume(ctx context.Context, src Source) error {
	return src.Run(ctx, func(t schema.Tick) error {
		_, err := a.OnTick(t)
		if errors.Is(err, exception.ErrInvalidArgument) {
			return nil
		}
		return err
	})
}

func (a *Aggregator) sealLocked(s *slot) {
	bar := s.bar
	bar.Final = true
	s.open = false
	s.lastEnd = bar.End
	select {
	case a.out <- bar:
		a.metrics.IncBarSealed()
	case <-a.done:
		a.metrics.IncBarDropped()
	}
}

func extend(bar *schema.Bar, t schema.Tick) {
	if t.Price > bar.High {
		bar.High = t.Price
	}
	if t.Price < bar.Low {
		bar.Low = t.Price
	}
	bar.Close = t.Price
	bar.Volume += t.Size
	bar.Trades++
}
