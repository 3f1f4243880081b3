package chaos

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"livebridge/internal/schema"
)

// Config controls chaos injection on a tick stream.
type Config struct {
	Seed          int64         `json:"seed" yaml:"seed"`
	DropRate      float64       `json:"dropRate" yaml:"drop_rate"`
	DuplicateRate float64       `json:"duplicateRate" yaml:"duplicate_rate"`
	ReorderWindow int           `json:"reorderWindow" yaml:"reorder_window"`
	MaxDelay      time.Duration `json:"maxDelay" yaml:"max_delay"`
}

// Enabled reports whether any rule would alter the stream.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1 || c.MaxDelay > 0
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow < 0 {
		return fmt.Errorf("reorderWindow must be >= 0")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("maxDelay must be >= 0")
	}
	return nil
}

// Engine drops, duplicates, reorders and delays ticks.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	rng     *rand.Rand
	pending []schema.Tick
}

// NewEngine creates a chaos engine. A zero seed uses the clock.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow == 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Process applies chaos to one tick and returns the ticks to deliver now.
func (e *Engine) Process(t schema.Tick) []schema.Tick {
	if e == nil {
		return []schema.Tick{t}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate {
		return nil
	}
	t = e.delay(t)
	if e.cfg.ReorderWindow <= 1 {
		return e.duplicate(t)
	}
	e.pending = append(e.pending, t)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	return e.duplicate(e.take())
}

// Flush returns the ticks still held by the reorder window.
func (e *Engine) Flush() []schema.Tick {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []schema.Tick
	for len(e.pending) > 0 {
		out = append(out, e.duplicate(e.take())...)
	}
	return out
}

func (e *Engine) take() schema.Tick {
	idx := e.rng.Intn(len(e.pending))
	t := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return t
}

func (e *Engine) duplicate(t schema.Tick) []schema.Tick {
	out := []schema.Tick{t}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		out = append(out, t)
	}
	return out
}

// delay skews the event time forward, which makes later ticks look late.
func (e *Engine) delay(t schema.Tick) schema.Tick {
	maxDelay := e.cfg.MaxDelay.Nanoseconds()
	if maxDelay <= 0 || t.TsEvent <= 0 {
		return t
	}
	t.TsEvent += e.rng.Int63n(maxDelay + 1)
	return t
}
