package risk

import (
	"fmt"
	"time"

	"livebridge/internal/schema"
)

const (
	defaultAdverseMoveBps      = 100
	defaultStaleReservationAge = 5 * time.Minute
)

// Config defines the risk limits. A zero limit is disabled.
// Config is loaded once and never mutated while an engine is running.
type Config struct {
	Version              uint16
	KillSwitch           bool
	MaxOrderQty          schema.Quantity
	MaxOrderNotional     schema.Notional
	MaxSymbolExposure    schema.Quantity
	MaxAggregateExposure schema.Notional
	MaxDailyLoss         schema.Notional
	MaxOrdersPerWindow   int
	WindowDuration       time.Duration
	MaxPriceDeviationBps int64
	StaleReservationAge  time.Duration
	Loss                 LossModel
}

// WithDefaults fills optional fields.
func (c Config) WithDefaults() Config {
	if c.Loss == nil {
		c.Loss = AdverseMoveLoss{Bps: defaultAdverseMoveBps}
	}
	if c.StaleReservationAge == 0 {
		c.StaleReservationAge = defaultStaleReservationAge
	}
	return c
}

// Validate checks the limits are usable.
func (c Config) Validate() error {
	if c.MaxOrderQty < 0 || c.MaxOrderNotional < 0 || c.MaxSymbolExposure < 0 ||
		c.MaxAggregateExposure < 0 || c.MaxDailyLoss < 0 {
		return fmt.Errorf("invalid risk config: limits must be >= 0")
	}
	if c.MaxOrdersPerWindow < 0 {
		return fmt.Errorf("invalid risk config: max_orders_per_window must be >= 0")
	}
	if c.MaxOrdersPerWindow > 0 && c.WindowDuration <= 0 {
		return fmt.Errorf("invalid risk config: window_duration must be > 0 when max_orders_per_window is set")
	}
	if c.MaxPriceDeviationBps < 0 {
		return fmt.Errorf("invalid risk config: max_price_deviation_bps must be >= 0")
	}
	if c.StaleReservationAge < 0 {
		return fmt.Errorf("invalid risk config: stale_reservation_age must be >= 0")
	}
	return nil
}
