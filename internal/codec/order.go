package codec

import "livebridge/internal/schema"

const (
	OrderIntentPayloadSize  = 40
	OrderAckPayloadSize     = 40
	RiskDecisionPayloadSize = 92
)

// EncodeOrderIntent serializes an order intent into a fixed-size payload.
func EncodeOrderIntent(dst []byte, order schema.OrderIntent) []byte {
	p := newPutter(dst, OrderIntentPayloadSize)
	p.u64(order.OrderID)
	p.u32(order.StrategyID)
	p.u32(uint32(order.SymbolID))
	p.u16(uint16(order.Side))
	p.u16(uint16(order.Type))
	p.u16(uint16(order.TimeInForce))
	p.u16(order.Flags)
	p.i64(int64(order.Price))
	p.i64(int64(order.Qty))
	return p.b
}

// DecodeOrderIntent parses a fixed-size order intent payload.
func DecodeOrderIntent(src []byte) (schema.OrderIntent, bool) {
	if len(src) < OrderIntentPayloadSize {
		return schema.OrderIntent{}, false
	}
	g := getter{b: src}
	return schema.OrderIntent{
		OrderID:     g.u64(),
		StrategyID:  g.u32(),
		SymbolID:    schema.SymbolID(g.u32()),
		Side:        schema.OrderSide(g.u16()),
		Type:        schema.OrderType(g.u16()),
		TimeInForce: schema.TimeInForce(g.u16()),
		Flags:       g.u16(),
		Price:       schema.Price(g.i64()),
		Qty:         schema.Quantity(g.i64()),
	}, true
}

// EncodeOrderAck serializes an order acknowledgment into a fixed-size payload.
func EncodeOrderAck(dst []byte, ack schema.OrderAck) []byte {
	p := newPutter(dst, OrderAckPayloadSize)
	p.u64(ack.OrderID)
	p.u32(uint32(ack.SymbolID))
	p.u16(uint16(ack.Status))
	p.u16(uint16(ack.Reason))
	p.i64(int64(ack.Price))
	p.i64(int64(ack.Qty))
	p.i64(int64(ack.LeavesQty))
	return p.b
}

// DecodeOrderAck parses a fixed-size order acknowledgment payload.
func DecodeOrderAck(src []byte) (schema.OrderAck, bool) {
	if len(src) < OrderAckPayloadSize {
		return schema.OrderAck{}, false
	}
	g := getter{b: src}
	return schema.OrderAck{
		OrderID:   g.u64(),
		SymbolID:  schema.SymbolID(g.u32()),
		Status:    schema.OrderAckStatus(g.u16()),
		Reason:    schema.OrderAckReason(g.u16()),
		Price:     schema.Price(g.i64()),
		Qty:       schema.Quantity(g.i64()),
		LeavesQty: schema.Quantity(g.i64()),
	}, true
}

// EncodeRiskDecision serializes a risk decision including its projections.
func EncodeRiskDecision(dst []byte, d schema.RiskDecision) []byte {
	p := newPutter(dst, RiskDecisionPayloadSize)
	p.u64(d.OrderID)
	p.u32(d.StrategyID)
	p.u32(uint32(d.SymbolID))
	p.u16(uint16(d.Action))
	p.u16(uint16(d.Reason))
	p.i64(int64(d.ProposedQty))
	p.i64(int64(d.ProposedPrice))
	p.i64(int64(d.CurrentPos))
	p.i64(int64(d.ProjectedPos))
	p.i64(int64(d.MaxPos))
	p.i64(int64(d.ProjectedNotional))
	p.i64(int64(d.MaxNotional))
	p.i64(int64(d.ProjectedLoss))
	p.i64(int64(d.MaxLoss))
	return p.b
}

// DecodeRiskDecision parses a fixed-size risk decision payload.
func DecodeRiskDecision(src []byte) (schema.RiskDecision, bool) {
	if len(src) < RiskDecisionPayloadSize {
		return schema.RiskDecision{}, false
	}
	g := getter{b: src}
	return schema.RiskDecision{
		OrderID:           g.u64(),
		StrategyID:        g.u32(),
		SymbolID:          schema.SymbolID(g.u32()),
		Action:            schema.RiskAction(g.u16()),
		Reason:            schema.RiskReason(g.u16()),
		ProposedQty:       schema.Quantity(g.i64()),
		ProposedPrice:     schema.Price(g.i64()),
		CurrentPos:        schema.Quantity(g.i64()),
		ProjectedPos:      schema.Quantity(g.i64()),
		MaxPos:            schema.Quantity(g.i64()),
		ProjectedNotional: schema.Notional(g.i64()),
		MaxNotional:       schema.Notional(g.i64()),
		ProjectedLoss:     schema.Notional(g.i64()),
		MaxLoss:           schema.Notional(g.i64()),
	}, true
}
