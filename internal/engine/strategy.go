package engine

import (
	"livebridge/internal/portfolio"
	"livebridge/internal/schema"
)

// Strategy turns a sealed bar and the current portfolio into order intents.
// Returning nothing means no action. Intents with a zero OrderID get one
// assigned by the engine.
type Strategy interface {
	OnBar(bar schema.Bar, snap portfolio.Snapshot) []schema.OrderIntent
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(bar schema.Bar, snap portfolio.Snapshot) []schema.OrderIntent

func (f StrategyFunc) OnBar(bar schema.Bar, snap portfolio.Snapshot) []schema.OrderIntent {
	return f(bar, snap)
}

// Hold never trades.
type Hold struct{}

func (Hold) OnBar(schema.Bar, portfolio.Snapshot) []schema.OrderIntent {
	return nil
}

// Breakout goes long Qty when a bar closes above the highest high of the
// previous Lookback bars and back to flat when it closes below the lowest low.
// It is not safe for concurrent use; the engine calls it from one goroutine.
type Breakout struct {
	Lookback int
	Qty      schema.Quantity

	history map[schema.SymbolID][]schema.Bar
}

// NewBreakout creates a breakout strategy.
func NewBreakout(lookback int, qty schema.Quantity) *Breakout {
	if lookback <= 0 {
		lookback = 20
	}
	return &Breakout{Lookback: lookback, Qty: qty, history: make(map[schema.SymbolID][]schema.Bar)}
}

func (b *Breakout) OnBar(bar schema.Bar, snap portfolio.Snapshot) []schema.OrderIntent {
	hist := b.history[bar.SymbolID]
	defer func() {
		hist = append(hist, bar)
		if len(hist) > b.Lookback {
			hist = hist[len(hist)-b.Lookback:]
		}
		b.history[bar.SymbolID] = hist
	}()
	if len(hist) < b.Lookback {
		return nil
	}

	high, low := hist[0].High, hist[0].Low
	for _, h := range hist[1:] {
		high = max(high, h.High)
		low = min(low, h.Low)
	}

	pos := snap.Qty(bar.SymbolID)
	var target schema.Quantity
	switch {
	case bar.Close > high:
		target = b.Qty
	case bar.Close < low:
		target = 0
	default:
		return nil
	}
	delta := target - pos
	if delta == 0 {
		return nil
	}
	side := schema.OrderSideBuy
	if delta < 0 {
		side, delta = schema.OrderSideSell, -delta
	}
	return []schema.OrderIntent{{
		SymbolID:    bar.SymbolID,
		Side:        side,
		Type:        schema.OrderTypeMarket,
		TimeInForce: schema.TimeInForceIOC,
		Qty:         delta,
	}}
}
