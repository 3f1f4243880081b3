// Package paper is an in-memory venue used for dry runs and tests.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"livebridge/internal/broker"
	"livebridge/internal/og"
	"livebridge/internal/schema"
	"livebridge/pkg/exception"

	"github.com/google/uuid"
)

const defaultFillBuffer = 1024

// Config controls the simulated account.
type Config struct {
	InitialCash schema.Notional `json:"initialCash" yaml:"initial_cash"`
	FeeBps      int64           `json:"feeBps" yaml:"fee_bps"`
	FillBuffer  int             `json:"fillBuffer" yaml:"fill_buffer"`
	Faults      FaultConfig     `json:"faults" yaml:"faults"`

	// FillIDSeed is the value fill IDs count up from. Zero uses the wall
	// clock so a resumed session never reuses an ID of an earlier one.
	FillIDSeed uint64 `json:"fillIdSeed" yaml:"fill_id_seed"`
}

type restingOrder struct {
	handle broker.OrderHandle
	intent schema.OrderIntent
}

// Broker fills market orders at the latest mark and limit orders once the
// mark crosses their price. Fills and updates are delivered in order on
// buffered channels by a pump goroutine.
type Broker struct {
	cfg    Config
	faults *faults

	mu        sync.Mutex
	cash      schema.Notional
	positions map[schema.SymbolID]schema.Quantity
	marks     map[schema.SymbolID]schema.Price
	resting   map[string]*restingOrder
	fillIDs   *og.IDGenerator
	outbox    []any
	closed    bool

	wake    chan struct{}
	done    chan struct{}
	fills   chan schema.Fill
	updates chan broker.OrderUpdate
}

// New creates a paper broker and starts its delivery pump.
func New(cfg Config) (*Broker, error) {
	if err := cfg.Faults.Validate(); err != nil {
		return nil, err
	}
	if cfg.FeeBps < 0 {
		return nil, fmt.Errorf("fee_bps must be >= 0")
	}
	if cfg.FillBuffer <= 0 {
		cfg.FillBuffer = defaultFillBuffer
	}
	b := &Broker{
		cfg:       cfg,
		faults:    newFaults(cfg.Faults),
		cash:      cfg.InitialCash,
		positions: make(map[schema.SymbolID]schema.Quantity),
		marks:     make(map[schema.SymbolID]schema.Price),
		resting:   make(map[string]*restingOrder),
		fillIDs:   og.NewIDGenerator(cfg.FillIDSeed),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		fills:     make(chan schema.Fill, cfg.FillBuffer),
		updates:   make(chan broker.OrderUpdate, cfg.FillBuffer),
	}
	go b.pump()
	return b, nil
}

// Seed replaces the venue cash and holdings, used when a session resumes a
// recovered book.
func (b *Broker) Seed(cash schema.Notional, positions map[schema.SymbolID]schema.Quantity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cash = cash
	b.positions = make(map[schema.SymbolID]schema.Quantity, len(positions))
	for sym, qty := range positions {
		if qty != 0 {
			b.positions[sym] = qty
		}
	}
}

// SetMark updates the venue price of a symbol and fills resting limit orders
// it crosses.
func (b *Broker) SetMark(symbol schema.SymbolID, price schema.Price, ts int64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks[symbol] = price

	ids := make([]string, 0, len(b.resting))
	for id, o := range b.resting {
		if o.intent.SymbolID == symbol && marketable(o.intent, price) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		o := b.resting[id]
		delete(b.resting, id)
		b.fillLocked(o.intent, o.intent.Price, ts)
	}
}

func (b *Broker) Submit(ctx context.Context, intent schema.OrderIntent) (broker.OrderHandle, error) {
	if err := b.wait(ctx); err != nil {
		return broker.OrderHandle{}, err
	}
	if b.faults.connectionError() {
		return broker.OrderHandle{}, fmt.Errorf("paper submit %d: %w", intent.OrderID, exception.ErrConnection)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return broker.OrderHandle{}, exception.ErrBrokerClosed
	}
	if b.faults.reject() {
		return broker.OrderHandle{}, fmt.Errorf("paper submit %d: simulated reject: %w", intent.OrderID, exception.ErrRejectedByVenue)
	}
	mark := b.marks[intent.SymbolID]
	if intent.Type == schema.OrderTypeMarket && mark <= 0 {
		return broker.OrderHandle{}, fmt.Errorf("paper submit %d: no market: %w", intent.OrderID, exception.ErrRejectedByVenue)
	}
	if intent.Side == schema.OrderSideBuy {
		need, _ := schema.MulNotional(max(intent.Price, mark), intent.Qty)
		if need > b.cash {
			return broker.OrderHandle{}, fmt.Errorf("paper submit %d: insufficient buying power: %w", intent.OrderID, exception.ErrRejectedByVenue)
		}
	}

	handle := broker.OrderHandle{OrderID: intent.OrderID, BrokerID: uuid.NewString(), SymbolID: intent.SymbolID}
	now := time.Now().UTC().UnixNano()
	switch {
	case intent.Type == schema.OrderTypeMarket:
		b.fillLocked(intent, mark, now)
	case mark > 0 && marketable(intent, mark):
		b.fillLocked(intent, mark, now)
	case intent.TimeInForce == schema.TimeInForceIOC || intent.TimeInForce == schema.TimeInForceFOK:
		b.pushLocked(broker.OrderUpdate{Handle: handle, Status: schema.OrderAckStatusExpired, Reason: "not marketable", TsEvent: now})
	default:
		b.resting[handle.BrokerID] = &restingOrder{handle: handle, intent: intent}
	}
	return handle, nil
}

func (b *Broker) Cancel(ctx context.Context, handle broker.OrderHandle) (bool, error) {
	if err := b.wait(ctx); err != nil {
		return false, err
	}
	if b.faults.connectionError() {
		return false, fmt.Errorf("paper cancel %s: %w", handle.BrokerID, exception.ErrConnection)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.resting[handle.BrokerID]
	if !ok {
		return false, nil
	}
	delete(b.resting, handle.BrokerID)
	b.pushLocked(broker.OrderUpdate{Handle: o.handle, Status: schema.OrderAckStatusCanceled, Reason: "canceled", TsEvent: time.Now().UTC().UnixNano()})
	return true, nil
}

func (b *Broker) Positions(ctx context.Context) (map[schema.SymbolID]schema.Quantity, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[schema.SymbolID]schema.Quantity, len(b.positions))
	for sym, qty := range b.positions {
		if qty != 0 {
			out[sym] = qty
		}
	}
	return out, nil
}

func (b *Broker) Account(ctx context.Context) (broker.AccountState, error) {
	if err := b.wait(ctx); err != nil {
		return broker.AccountState{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for sym, qty := range b.positions {
		equity += schema.Notional(schema.MulDiv(int64(b.marks[sym]), int64(qty), 1))
	}
	return broker.AccountState{Cash: b.cash, Equity: equity}, nil
}

func (b *Broker) Fills() <-chan schema.Fill {
	return b.fills
}

func (b *Broker) Updates() <-chan broker.OrderUpdate {
	return b.updates
}

// Resting returns the number of unfilled limit orders.
func (b *Broker) Resting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.resting)
}

// Close stops the pump and closes the fill and update channels once the
// outbox is delivered or dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.done)
}

func (b *Broker) fillLocked(intent schema.OrderIntent, price schema.Price, ts int64) {
	notional := schema.Notional(schema.MulDiv(int64(price), int64(intent.Qty), 1))
	fee := schema.Fee(schema.MulDiv(int64(notional), b.cfg.FeeBps, 10_000))
	fill := schema.Fill{
		FillID:   b.fillIDs.Next(),
		OrderID:  intent.OrderID,
		SymbolID: intent.SymbolID,
		Side:     intent.Side,
		Price:    price,
		Qty:      intent.Qty,
		Fee:      fee,
		TsEvent:  ts,
	}
	b.positions[intent.SymbolID] += schema.Quantity(intent.Side.Sign() * int64(intent.Qty))
	b.cash -= schema.Notional(intent.Side.Sign()) * notional
	b.cash -= schema.Notional(fee)
	b.pushLocked(fill)
	if b.faults.duplicate() {
		b.pushLocked(fill)
	}
}

func (b *Broker) pushLocked(v any) {
	b.outbox = append(b.outbox, v)
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Broker) pump() {
	defer close(b.fills)
	defer close(b.updates)
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}
		b.mu.Lock()
		batch := b.outbox
		b.outbox = nil
		b.mu.Unlock()

		for _, v := range batch {
			switch ev := v.(type) {
			case schema.Fill:
				select {
				case b.fills <- ev:
				case <-b.done:
					return
				}
			case broker.OrderUpdate:
				select {
				case b.updates <- ev:
				case <-b.done:
					return
				}
			}
		}
	}
}

func (b *Broker) wait(ctx context.Context) error {
	d := b.faults.latency()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func marketable(intent schema.OrderIntent, mark schema.Price) bool {
	if intent.Type != schema.OrderTypeLimit {
		return true
	}
	if intent.Side == schema.OrderSideBuy {
		return mark <= intent.Price
	}
	return mark >= intent.Price
}
