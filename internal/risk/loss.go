package risk

import (
	"fmt"
	"strings"

	"livebridge/internal/schema"
)

const bpsDenominator = 10_000

// LossModel estimates the worst-case loss an order can add before its outcome is known.
type LossModel interface {
	Name() string
	WorstLoss(intent schema.OrderIntent, mark schema.Price) schema.Notional
}

// NotionalLoss treats the whole order notional as at risk.
type NotionalLoss struct{}

func (NotionalLoss) Name() string { return "notional" }

func (NotionalLoss) WorstLoss(intent schema.OrderIntent, mark schema.Price) schema.Notional {
	return saturatedNotional(referencePrice(intent, mark), intent.Qty)
}

// AdverseMoveLoss assumes the reference price moves Bps against the order.
type AdverseMoveLoss struct {
	Bps int64
}

func (AdverseMoveLoss) Name() string { return "adverse_move" }

func (m AdverseMoveLoss) WorstLoss(intent schema.OrderIntent, mark schema.Price) schema.Notional {
	notional := saturatedNotional(referencePrice(intent, mark), intent.Qty)
	return schema.Notional(schema.MulDiv(int64(notional), m.Bps, bpsDenominator))
}

// LimitPriceLoss charges the distance between a marketable limit price and the
// mark as realized slippage, then applies an adverse move on the mark.
type LimitPriceLoss struct {
	Bps int64
}

func (LimitPriceLoss) Name() string { return "limit_price" }

func (m LimitPriceLoss) WorstLoss(intent schema.OrderIntent, mark schema.Price) schema.Notional {
	ref := mark
	if ref <= 0 {
		ref = intent.Price
	}
	loss := schema.Notional(schema.MulDiv(int64(saturatedNotional(ref, intent.Qty)), m.Bps, bpsDenominator))
	if intent.Type == schema.OrderTypeLimit && mark > 0 && intent.Price > 0 {
		through := intent.Side.Sign() * int64(intent.Price-mark)
		if through > 0 {
			loss += saturatedNotional(schema.Price(through), intent.Qty)
		}
	}
	return loss
}

// ParseLossModel resolves an operator-facing loss model name.
func ParseLossModel(name string, bps int64) (LossModel, error) {
	if bps < 0 {
		return nil, fmt.Errorf("adverse_move_bps must be >= 0")
	}
	if bps == 0 {
		bps = defaultAdverseMoveBps
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "adverse_move", "mark_to_market":
		return AdverseMoveLoss{Bps: bps}, nil
	case "notional":
		return NotionalLoss{}, nil
	case "limit_price":
		return LimitPriceLoss{Bps: bps}, nil
	default:
		return nil, fmt.Errorf("unknown loss model: %s", name)
	}
}

func referencePrice(intent schema.OrderIntent, mark schema.Price) schema.Price {
	if intent.Type == schema.OrderTypeLimit && intent.Price > 0 {
		return intent.Price
	}
	return mark
}

func saturatedNotional(price schema.Price, qty schema.Quantity) schema.Notional {
	n, overflow := schema.MulNotional(price, qty)
	if overflow {
		return schema.Notional(maxInt64)
	}
	return schema.AbsNotional(n)
}
