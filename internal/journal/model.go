package journal

import (
	"time"

	"livebridge/internal/schema"
)

// FillRow is one booked execution. FillID is the primary key, so a replayed
// fill is ignored on insert.
type FillRow struct {
	FillID     uint64 `gorm:"primaryKey;autoIncrement:false"`
	OrderID    uint64 `gorm:"index"`
	SymbolID   uint32 `gorm:"index"`
	Side       uint16
	Price      int64
	Qty        int64
	Fee        int64
	TsEvent    int64     `gorm:"index"`
	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (FillRow) TableName() string { return "live_fills" }

// OrderEventRow is an intent, risk decision or acknowledgment for an order.
type OrderEventRow struct {
	ID         uint64 `gorm:"primaryKey"`
	OrderID    uint64 `gorm:"index"`
	SymbolID   uint32
	Kind       string `gorm:"size:16"`
	Side       uint16
	Status     uint16
	Reason     uint16
	Price      int64
	Qty        int64
	TsEvent    int64
	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (OrderEventRow) TableName() string { return "live_order_events" }

// DriftRow is one line of a drift report.
type DriftRow struct {
	ID         uint64 `gorm:"primaryKey"`
	SymbolID   uint32
	Virtual    int64
	Broker     int64
	TsEvent    int64     `gorm:"index"`
	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (DriftRow) TableName() string { return "live_drift" }

const (
	kindIntent   = "intent"
	kindDecision = "decision"
	kindAck      = "ack"
)

// toRow maps a journaled value to its row. Ticks and bars are not stored.
func toRow(v any, tsEvent int64) (any, bool) {
	switch ev := v.(type) {
	case schema.Fill:
		return &FillRow{
			FillID:   ev.FillID,
			OrderID:  ev.OrderID,
			SymbolID: uint32(ev.SymbolID),
			Side:     uint16(ev.Side),
			Price:    int64(ev.Price),
			Qty:      int64(ev.Qty),
			Fee:      int64(ev.Fee),
			TsEvent:  ev.TsEvent,
		}, true
	case schema.OrderIntent:
		return &OrderEventRow{
			OrderID:  ev.OrderID,
			SymbolID: uint32(ev.SymbolID),
			Kind:     kindIntent,
			Side:     uint16(ev.Side),
			Price:    int64(ev.Price),
			Qty:      int64(ev.Qty),
			TsEvent:  tsEvent,
		}, true
	case schema.RiskDecision:
		return &OrderEventRow{
			OrderID:  ev.OrderID,
			SymbolID: uint32(ev.SymbolID),
			Kind:     kindDecision,
			Status:   uint16(ev.Action),
			Reason:   uint16(ev.Reason),
			Price:    int64(ev.ProposedPrice),
			Qty:      int64(ev.ProposedQty),
			TsEvent:  tsEvent,
		}, true
	case schema.OrderAck:
		return &OrderEventRow{
			OrderID:  ev.OrderID,
			SymbolID: uint32(ev.SymbolID),
			Kind:     kindAck,
			Status:   uint16(ev.Status),
			Reason:   uint16(ev.Reason),
			Price:    int64(ev.Price),
			Qty:      int64(ev.Qty),
			TsEvent:  tsEvent,
		}, true
	case schema.DriftRecord:
		return &DriftRow{
			SymbolID: uint32(ev.SymbolID),
			Virtual:  ev.Virtual,
			Broker:   ev.Broker,
			TsEvent:  ev.TsEvent,
		}, true
	default:
		return nil, false
	}
}

// Fill converts the row back into a schema fill.
func (r FillRow) Fill() schema.Fill {
	return schema.Fill{
		FillID:   r.FillID,
		OrderID:  r.OrderID,
		SymbolID: schema.SymbolID(r.SymbolID),
		Side:     schema.OrderSide(r.Side),
		Price:    schema.Price(r.Price),
		Qty:      schema.Quantity(r.Qty),
		Fee:      schema.Fee(r.Fee),
		TsEvent:  r.TsEvent,
	}
}
