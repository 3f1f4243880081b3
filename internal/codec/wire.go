package codec

import (
	"encoding/binary"
	"fmt"

	"livebridge/internal/schema"
)

// putter writes little-endian fields at an advancing offset.
type putter struct {
	b   []byte
	off int
}

func newPutter(dst []byte, size int) putter {
	if cap(dst) < size {
		dst = make([]byte, size)
	} else {
		dst = dst[:size]
	}
	return putter{b: dst}
}

func (p *putter) u16(v uint16) {
	binary.LittleEndian.PutUint16(p.b[p.off:], v)
	p.off += 2
}

func (p *putter) u32(v uint32) {
	binary.LittleEndian.PutUint32(p.b[p.off:], v)
	p.off += 4
}

func (p *putter) u64(v uint64) {
	binary.LittleEndian.PutUint64(p.b[p.off:], v)
	p.off += 8
}

func (p *putter) i64(v int64) { p.u64(uint64(v)) }

func (p *putter) skip(n int) {
	for i := 0; i < n; i++ {
		p.b[p.off+i] = 0
	}
	p.off += n
}

// getter reads little-endian fields at an advancing offset.
type getter struct {
	b   []byte
	off int
}

func (g *getter) u16() uint16 {
	v := binary.LittleEndian.Uint16(g.b[g.off:])
	g.off += 2
	return v
}

func (g *getter) u32() uint32 {
	v := binary.LittleEndian.Uint32(g.b[g.off:])
	g.off += 4
	return v
}

func (g *getter) u64() uint64 {
	v := binary.LittleEndian.Uint64(g.b[g.off:])
	g.off += 8
	return v
}

func (g *getter) i64() int64 { return int64(g.u64()) }

func (g *getter) skip(n int) { g.off += n }

// PayloadSize returns the fixed payload size for an event type, or 0 if unknown.
func PayloadSize(t schema.EventType) int {
	switch t {
	case schema.EventTick:
		return TickPayloadSize
	case schema.EventBar:
		return BarPayloadSize
	case schema.EventOrderIntent:
		return OrderIntentPayloadSize
	case schema.EventRiskDecision:
		return RiskDecisionPayloadSize
	case schema.EventOrderAck:
		return OrderAckPayloadSize
	case schema.EventFill:
		return FillPayloadSize
	case schema.EventDrift:
		return DriftPayloadSize
	default:
		return 0
	}
}

// Encode serializes any supported payload and reports its event type.
func Encode(dst []byte, v any) (schema.EventType, []byte, error) {
	switch e := v.(type) {
	case schema.Tick:
		return schema.EventTick, EncodeTick(dst, e), nil
	case schema.Bar:
		return schema.EventBar, EncodeBar(dst, e), nil
	case schema.OrderIntent:
		return schema.EventOrderIntent, EncodeOrderIntent(dst, e), nil
	case schema.RiskDecision:
		return schema.EventRiskDecision, EncodeRiskDecision(dst, e), nil
	case schema.OrderAck:
		return schema.EventOrderAck, EncodeOrderAck(dst, e), nil
	case schema.Fill:
		return schema.EventFill, EncodeFill(dst, e), nil
	case schema.DriftRecord:
		return schema.EventDrift, EncodeDrift(dst, e), nil
	default:
		return schema.EventUnknown, nil, fmt.Errorf("codec: unsupported payload %T", v)
	}
}

// Decode parses a payload of the given event type into its schema value.
func Decode(t schema.EventType, src []byte) (any, error) {
	var (
		v  any
		ok bool
	)
	switch t {
	case schema.EventTick:
		v, ok = DecodeTick(src)
	case schema.EventBar:
		v, ok = DecodeBar(src)
	case schema.EventOrderIntent:
		v, ok = DecodeOrderIntent(src)
	case schema.EventRiskDecision:
		v, ok = DecodeRiskDecision(src)
	case schema.EventOrderAck:
		v, ok = DecodeOrderAck(src)
	case schema.EventFill:
		v, ok = DecodeFill(src)
	case schema.EventDrift:
		v, ok = DecodeDrift(src)
	default:
		return nil, fmt.Errorf("codec: unsupported event type %s", t)
	}
	if !ok {
		return nil, fmt.Errorf("codec: short %s payload: %d bytes", t, len(src))
	}
	return v, nil
}
