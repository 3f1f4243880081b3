package paper

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// FaultConfig injects venue misbehavior into the paper broker.
type FaultConfig struct {
	Seed              int64         `json:"seed" yaml:"seed"`
	RejectRate        float64       `json:"rejectRate" yaml:"reject_rate"`
	ConnectionErrRate float64       `json:"connectionErrRate" yaml:"connection_err_rate"`
	DuplicateFillRate float64       `json:"duplicateFillRate" yaml:"duplicate_fill_rate"`
	MaxLatency        time.Duration `json:"maxLatency" yaml:"max_latency"`
}

// Validate ensures the rates are probabilities.
func (c FaultConfig) Validate() error {
	for name, rate := range map[string]float64{
		"reject_rate":         c.RejectRate,
		"connection_err_rate": c.ConnectionErrRate,
		"duplicate_fill_rate": c.DuplicateFillRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	if c.MaxLatency < 0 {
		return fmt.Errorf("max_latency must be >= 0")
	}
	return nil
}

// faults rolls seeded dice so a run can be reproduced.
type faults struct {
	cfg FaultConfig
	mu  sync.Mutex
	rng *rand.Rand
}

func newFaults(cfg FaultConfig) *faults {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}
	return &faults{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (f *faults) roll(rate float64) bool {
	if rate <= 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64() < rate
}

func (f *faults) connectionError() bool { return f.roll(f.cfg.ConnectionErrRate) }

func (f *faults) reject() bool { return f.roll(f.cfg.RejectRate) }

func (f *faults) duplicate() bool { return f.roll(f.cfg.DuplicateFillRate) }

func (f *faults) latency() time.Duration {
	max := f.cfg.MaxLatency.Nanoseconds()
	if max <= 0 {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Duration(f.rng.Int63n(max + 1))
}
