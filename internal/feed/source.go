package feed

import (
	"context"
	"fmt"
	"time"

	"livebridge/internal/schema"
	"livebridge/pkg/exception"

	"github.com/shopspring/decimal"
)

// Source delivers ticks with per-symbol monotonic timestamps. Run blocks until
// the stream ends, ctx is done, or emit returns an error.
type Source interface {
	Run(ctx context.Context, emit func(schema.Tick) error) error
}

// RawTick is a trade print as a venue reports it, with human decimals.
type RawTick struct {
	Symbol  string          `json:"symbol"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	TsEvent int64           `json:"ts"`
}

// Normalizer maps raw ticks onto registry symbols and scaled integers.
type Normalizer struct {
	reg *schema.Registry
}

// NewNormalizer creates a normalizer for a registry.
func NewNormalizer(reg *schema.Registry) *Normalizer {
	return &Normalizer{reg: reg}
}

// Normalize converts a raw tick. A zero timestamp is stamped with now.
func (n *Normalizer) Normalize(raw RawTick) (schema.Tick, error) {
	if n.reg == nil {
		return schema.Tick{}, exception.ErrNilInstance
	}
	sym, ok := n.reg.Lookup(raw.Symbol)
	if !ok {
		return schema.Tick{}, fmt.Errorf("%s: %w", raw.Symbol, exception.ErrUnknownSymbol)
	}
	if !raw.Price.IsPositive() || raw.Size.IsNegative() {
		return schema.Tick{}, fmt.Errorf("%s price %s size %s: %w", raw.Symbol, raw.Price, raw.Size, exception.ErrInvalidArgument)
	}
	price := Scaled(raw.Price, sym.Scale.PriceScale)
	if price <= 0 {
		return schema.Tick{}, fmt.Errorf("%s price %s below scale: %w", raw.Symbol, raw.Price, exception.ErrInvalidArgument)
	}
	ts := raw.TsEvent
	if ts == 0 {
		ts = time.Now().UTC().UnixNano()
	}
	return schema.Tick{
		SymbolID: sym.ID,
		Price:    schema.Price(price),
		Size:     schema.Quantity(Scaled(raw.Size, sym.Scale.QuantityScale)),
		TsEvent:  ts,
	}, nil
}

// Scaled converts a decimal into a scaled integer, truncating extra digits.
func Scaled(d decimal.Decimal, scale schema.Scale) int64 {
	return d.Shift(int32(scale)).Truncate(0).IntPart()
}

type tapSource struct {
	src Source
	fn  func(schema.Tick)
}

// Tap calls fn with every tick of src before it is emitted. The paper broker
// uses it to follow the market.
func Tap(src Source, fn func(schema.Tick)) Source {
	return tapSource{src: src, fn: fn}
}

func (t tapSource) Run(ctx context.Context, emit func(schema.Tick) error) error {
	return t.src.Run(ctx, func(tick schema.Tick) error {
		t.fn(tick)
		return emit(tick)
	})
}

// SliceSource emits a fixed list of ticks and ends.
type SliceSource []schema.Tick

func (s SliceSource) Run(ctx context.Context, emit func(schema.Tick) error) error {
	for _, t := range s {
		if ctx.Err() != nil {
			return nil
		}
		if err := emit(t); err != nil {
			return err
		}
	}
	return nil
}
