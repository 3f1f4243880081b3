package portfolio

import (
	"fmt"
	"sort"
	"sync"

	"livebridge/internal/schema"
)

// Position is the average-cost ledger of one symbol. Cost is signed: positive
// for longs, negative for shorts.
type Position struct {
	SymbolID  schema.SymbolID `json:"symbolId"`
	Qty       schema.Quantity `json:"qty"`
	Cost      schema.Notional `json:"cost"`
	Realized  schema.Notional `json:"realized"`
	LastPrice schema.Price    `json:"lastPrice"`
}

// AvgPrice returns the average entry price, truncated.
func (p Position) AvgPrice() schema.Price {
	if p.Qty == 0 {
		return 0
	}
	return schema.Price(schema.MulDiv(int64(p.Cost), 1, int64(p.Qty)))
}

// Portfolio is the ledger computed purely from confirmed fills. Broker-reported
// state is only ever compared against it.
type Portfolio struct {
	mu        sync.RWMutex
	cash      schema.Notional
	fees      schema.Notional
	positions map[schema.SymbolID]*Position
	marks     map[schema.SymbolID]schema.Price
	seen      map[uint64]struct{}
	updatedAt int64
}

// New creates a portfolio holding initialCash.
func New(initialCash schema.Notional) *Portfolio {
	return &Portfolio{
		cash:      initialCash,
		positions: make(map[schema.SymbolID]*Position),
		marks:     make(map[schema.SymbolID]schema.Price),
		seen:      make(map[uint64]struct{}),
	}
}

// ApplyFill books a fill. A fill ID that was already applied is ignored and
// reported with applied=false.
func (p *Portfolio) ApplyFill(fill schema.Fill) (applied bool, err error) {
	if fill.Qty <= 0 || fill.Side.Sign() == 0 {
		return false, fmt.Errorf("invalid fill %d: side=%s qty=%d", fill.FillID, fill.Side, fill.Qty)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, dup := p.seen[fill.FillID]; dup {
		return false, nil
	}
	p.seen[fill.FillID] = struct{}{}

	pos := p.positions[fill.SymbolID]
	if pos == nil {
		pos = &Position{SymbolID: fill.SymbolID}
		p.positions[fill.SymbolID] = pos
	}
	book(pos, fill.Side.Sign(), fill.Price, fill.Qty)
	pos.LastPrice = fill.Price

	signed := schema.Notional(schema.MulDiv(int64(fill.Price), fill.Side.Sign()*int64(fill.Qty), 1))
	p.cash -= signed
	p.cash -= schema.Notional(fill.Fee)
	p.fees += schema.Notional(fill.Fee)
	if fill.TsEvent > p.updatedAt {
		p.updatedAt = fill.TsEvent
	}
	return true, nil
}

// book applies sign*qty at price to the average-cost ledger.
func book(pos *Position, sign int64, price schema.Price, qty schema.Quantity) {
	q := int64(pos.Qty)
	open := int64(qty)

	if q != 0 && (q > 0) != (sign > 0) {
		closeQty := min(open, absInt64(q))
		portion := schema.MulDiv(int64(pos.Cost), closeQty, absInt64(q))
		proceeds := schema.MulDiv(int64(price), closeQty, 1)
		if q > 0 {
			pos.Realized += schema.Notional(proceeds - portion)
		} else {
			pos.Realized += schema.Notional(-proceeds - portion)
		}
		pos.Cost -= schema.Notional(portion)
		q += sign * closeQty
		open -= closeQty
		if q == 0 {
			pos.Cost = 0
		}
	}
	if open > 0 {
		q += sign * open
		pos.Cost += schema.Notional(schema.MulDiv(int64(price), sign*open, 1))
	}
	pos.Qty = schema.Quantity(q)
}

// Mark records the latest price used for unrealized P&L and equity.
func (p *Portfolio) Mark(symbol schema.SymbolID, price schema.Price) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	p.marks[symbol] = price
	p.mu.Unlock()
}

// Seen reports whether a fill ID has been applied.
func (p *Portfolio) Seen(fillID uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.seen[fillID]
	return ok
}

// Snapshot is a consistent point-in-time copy of the portfolio.
type Snapshot struct {
	Cash       schema.Notional `json:"cash"`
	Fees       schema.Notional `json:"fees"`
	Realized   schema.Notional `json:"realized"`
	Unrealized schema.Notional `json:"unrealized"`
	Equity     schema.Notional `json:"equity"`
	Positions  []Position      `json:"positions"`
	FillCount  int             `json:"fillCount"`
	UpdatedAt  int64           `json:"updatedAt"`
}

// Qty returns the position of symbol, or zero.
func (s Snapshot) Qty(symbol schema.SymbolID) schema.Quantity {
	if pos, ok := s.Position(symbol); ok {
		return pos.Qty
	}
	return 0
}

// Position returns the ledger entry of symbol.
func (s Snapshot) Position(symbol schema.SymbolID) (Position, bool) {
	i := sort.Search(len(s.Positions), func(i int) bool { return s.Positions[i].SymbolID >= symbol })
	if i < len(s.Positions) && s.Positions[i].SymbolID == symbol {
		return s.Positions[i], true
	}
	return Position{}, false
}

// NetPnL is realized plus unrealized P&L after fees.
func (s Snapshot) NetPnL() schema.Notional {
	return s.Realized + s.Unrealized - s.Fees
}

// Snapshot returns a copy of the portfolio. Marks fall back to the last fill price.
func (p *Portfolio) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		Cash:      p.cash,
		Fees:      p.fees,
		Equity:    p.cash,
		Positions: make([]Position, 0, len(p.positions)),
		FillCount: len(p.seen),
		UpdatedAt: p.updatedAt,
	}
	for sym, pos := range p.positions {
		snap.Positions = append(snap.Positions, *pos)
		snap.Realized += pos.Realized
		if pos.Qty == 0 {
			continue
		}
		mark := p.marks[sym]
		if mark <= 0 {
			mark = pos.LastPrice
		}
		value := schema.Notional(schema.MulDiv(int64(mark), int64(pos.Qty), 1))
		snap.Equity += value
		snap.Unrealized += value - pos.Cost
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].SymbolID < snap.Positions[j].SymbolID
	})
	return snap
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
