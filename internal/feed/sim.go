package feed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"livebridge/internal/schema"
)

// SimConfig drives the synthetic tick generator.
type SimConfig struct {
	BasePrice schema.Price    `json:"basePrice" yaml:"base_price"`
	BaseSize  schema.Quantity `json:"baseSize" yaml:"base_size"`
	MaxStep   schema.Price    `json:"maxStep" yaml:"max_step"`
	Every     time.Duration   `json:"every" yaml:"every"`
	Seed      int64           `json:"seed" yaml:"seed"`
	// Limit stops the source after that many ticks; zero runs until ctx ends.
	Limit int `json:"limit" yaml:"limit"`
}

// SimSource emits a seeded random walk for every registry symbol, round robin.
type SimSource struct {
	cfg     SimConfig
	symbols []schema.Symbol
	prices  []schema.Price
	rng     *rand.Rand
	index   int
}

// NewSimSource creates a generator for all symbols in the registry.
func NewSimSource(reg *schema.Registry, cfg SimConfig) (*SimSource, error) {
	if reg == nil || reg.SymbolCount() == 0 {
		return nil, fmt.Errorf("registry has no symbols")
	}
	if cfg.BasePrice <= 0 {
		return nil, fmt.Errorf("base_price must be > 0")
	}
	if cfg.BaseSize <= 0 {
		cfg.BaseSize = 1
	}
	if cfg.MaxStep < 0 {
		cfg.MaxStep = 0
	}
	if cfg.Every <= 0 {
		cfg.Every = 100 * time.Millisecond
	}
	symbols := reg.Symbols()
	prices := make([]schema.Price, len(symbols))
	for i := range prices {
		prices[i] = cfg.BasePrice
	}
	return &SimSource{
		cfg:     cfg,
		symbols: symbols,
		prices:  prices,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Next creates the next tick in sequence. The same seed yields the same prices.
func (g *SimSource) Next(now int64) schema.Tick {
	i := g.index
	g.index = (g.index + 1) % len(g.symbols)

	if step := int64(g.cfg.MaxStep); step > 0 {
		p := g.prices[i] + schema.Price(g.rng.Int63n(2*step+1)-step)
		if p < 1 {
			p = 1
		}
		g.prices[i] = p
	}
	return schema.Tick{
		SymbolID: g.symbols[i].ID,
		Price:    g.prices[i],
		Size:     g.cfg.BaseSize,
		TsEvent:  now,
	}
}

// Run emits one tick every cfg.Every stamped with the wall clock.
func (g *SimSource) Run(ctx context.Context, emit func(schema.Tick) error) error {
	ticker := time.NewTicker(g.cfg.Every)
	defer ticker.Stop()
	for n := 0; g.cfg.Limit == 0 || n < g.cfg.Limit; n++ {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := emit(g.Next(now.UTC().UnixNano())); err != nil {
				return err
			}
		}
	}
	return nil
}
