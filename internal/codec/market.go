package codec

import "livebridge/internal/schema"

const (
	TickPayloadSize = 32
	BarPayloadSize  = 68
)

const barFlagFinal uint16 = 1

// EncodeTick serializes a tick into a fixed-size payload.
func EncodeTick(dst []byte, tick schema.Tick) []byte {
	p := newPutter(dst, TickPayloadSize)
	p.u32(uint32(tick.SymbolID))
	p.u16(tick.Flags)
	p.skip(2)
	p.i64(int64(tick.Price))
	p.i64(int64(tick.Size))
	p.i64(tick.TsEvent)
	return p.b
}

// DecodeTick parses a fixed-size tick payload.
func DecodeTick(src []byte) (schema.Tick, bool) {
	if len(src) < TickPayloadSize {
		return schema.Tick{}, false
	}
	g := getter{b: src}
	tick := schema.Tick{
		SymbolID: schema.SymbolID(g.u32()),
		Flags:    g.u16(),
	}
	g.skip(2)
	tick.Price = schema.Price(g.i64())
	tick.Size = schema.Quantity(g.i64())
	tick.TsEvent = g.i64()
	return tick, true
}

// EncodeBar serializes a bar into a fixed-size payload.
func EncodeBar(dst []byte, bar schema.Bar) []byte {
	p := newPutter(dst, BarPayloadSize)
	p.u32(uint32(bar.SymbolID))
	p.u32(bar.Trades)
	var flags uint16
	if bar.Final {
		flags |= barFlagFinal
	}
	p.u16(flags)
	p.skip(2)
	p.i64(int64(bar.Open))
	p.i64(int64(bar.High))
	p.i64(int64(bar.Low))
	p.i64(int64(bar.Close))
	p.i64(int64(bar.Volume))
	p.i64(bar.Start)
	p.i64(bar.End)
	return p.b
}

// DecodeBar parses a fixed-size bar payload.
func DecodeBar(src []byte) (schema.Bar, bool) {
	if len(src) < BarPayloadSize {
		return schema.Bar{}, false
	}
	g := getter{b: src}
	bar := schema.Bar{
		SymbolID: schema.SymbolID(g.u32()),
		Trades:   g.u32(),
	}
	bar.Final = g.u16()&barFlagFinal != 0
	g.skip(2)
	bar.Open = schema.Price(g.i64())
	bar.High = schema.Price(g.i64())
	bar.Low = schema.Price(g.i64())
	bar.Close = schema.Price(g.i64())
	bar.Volume = schema.Quantity(g.i64())
	bar.Start = g.i64()
	bar.End = g.i64()
	return bar, true
}
