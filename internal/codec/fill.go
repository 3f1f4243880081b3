package codec

import "livebridge/internal/schema"

const (
	FillPayloadSize  = 56
	DriftPayloadSize = 32
)

// EncodeFill serializes a fill into a fixed-size payload.
func EncodeFill(dst []byte, fill schema.Fill) []byte {
	p := newPutter(dst, FillPayloadSize)
	p.u64(fill.FillID)
	p.u64(fill.OrderID)
	p.u32(uint32(fill.SymbolID))
	p.u16(uint16(fill.Side))
	p.u16(fill.Flags)
	p.i64(int64(fill.Price))
	p.i64(int64(fill.Qty))
	p.i64(int64(fill.Fee))
	p.i64(fill.TsEvent)
	return p.b
}

// DecodeFill parses a fixed-size fill payload.
func DecodeFill(src []byte) (schema.Fill, bool) {
	if len(src) < FillPayloadSize {
		return schema.Fill{}, false
	}
	g := getter{b: src}
	return schema.Fill{
		FillID:   g.u64(),
		OrderID:  g.u64(),
		SymbolID: schema.SymbolID(g.u32()),
		Side:     schema.OrderSide(g.u16()),
		Flags:    g.u16(),
		Price:    schema.Price(g.i64()),
		Qty:      schema.Quantity(g.i64()),
		Fee:      schema.Fee(g.i64()),
		TsEvent:  g.i64(),
	}, true
}

// EncodeDrift serializes a drift line.
func EncodeDrift(dst []byte, rec schema.DriftRecord) []byte {
	p := newPutter(dst, DriftPayloadSize)
	p.u32(uint32(rec.SymbolID))
	p.skip(4)
	p.i64(rec.Virtual)
	p.i64(rec.Broker)
	p.i64(rec.TsEvent)
	return p.b
}

// DecodeDrift parses a drift line.
func DecodeDrift(src []byte) (schema.DriftRecord, bool) {
	if len(src) < DriftPayloadSize {
		return schema.DriftRecord{}, false
	}
	g := getter{b: src}
	rec := schema.DriftRecord{SymbolID: schema.SymbolID(g.u32())}
	g.skip(4)
	rec.Virtual = g.i64()
	rec.Broker = g.i64()
	rec.TsEvent = g.i64()
	return rec, true
}
