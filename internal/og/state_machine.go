package og

import (
	"errors"

	"livebridge/internal/schema"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidFill       = errors.New("invalid fill quantity")
)

// OrderState tracks the lifecycle of an order.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStateNew
	OrderStateSent
	OrderStateAcked
	OrderStatePartFilled
	OrderStateFilled
	OrderStateCanceled
	OrderStateRejected
	OrderStateExpired
)

var orderStateNames = [...]string{
	OrderStateUnknown:    "unknown",
	OrderStateNew:        "new",
	OrderStateSent:       "sent",
	OrderStateAcked:      "accepted",
	OrderStatePartFilled: "partially_filled",
	OrderStateFilled:     "filled",
	OrderStateCanceled:   "cancelled",
	OrderStateRejected:   "rejected",
	OrderStateExpired:    "expired",
}

func (s OrderState) String() string {
	if int(s) < len(orderStateNames) {
		return orderStateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further fills can arrive.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCanceled, OrderStateRejected, OrderStateExpired:
		return true
	default:
		return false
	}
}

// Order holds the local view of an order.
type Order struct {
	ID         uint64
	StrategyID uint32
	BrokerID   string
	SymbolID   schema.SymbolID
	Side       schema.OrderSide
	Type       schema.OrderType
	Price      schema.Price
	Qty        schema.Quantity
	FilledQty  schema.Quantity
	LeavesQty  schema.Quantity
	State      OrderState
	CreatedAt  int64
	UpdatedAt  int64
}

// stateMachine applies intent/ack/fill events to orders. It is not synchronized;
// Tracker owns the lock.
type stateMachine struct {
	orders map[uint64]*Order
}

func newStateMachine() *stateMachine {
	return &stateMachine{orders: make(map[uint64]*Order)}
}

func (m *stateMachine) applyIntent(intent schema.OrderIntent, now int64) (*Order, error) {
	if intent.OrderID == 0 {
		return nil, ErrUnknownOrder
	}
	if _, ok := m.orders[intent.OrderID]; ok {
		return nil, ErrDuplicateOrder
	}
	o := &Order{
		ID:         intent.OrderID,
		StrategyID: intent.StrategyID,
		SymbolID:   intent.SymbolID,
		Side:       intent.Side,
		Type:       intent.Type,
		Price:      intent.Price,
		Qty:        intent.Qty,
		LeavesQty:  intent.Qty,
		State:      OrderStateNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.orders[o.ID] = o
	return o, nil
}

func (m *stateMachine) applyAck(ack schema.OrderAck, now int64) (*Order, error) {
	o, ok := m.orders[ack.OrderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	if o.State.Terminal() {
		return o, ErrInvalidTransition
	}
	if ack.LeavesQty != 0 {
		o.LeavesQty = ack.LeavesQty
	}

	switch ack.Status {
	case schema.OrderAckStatusAcked:
		if o.State < OrderStateAcked {
			o.State = OrderStateAcked
		}
	case schema.OrderAckStatusRejected:
		o.State = OrderStateRejected
	case schema.OrderAckStatusCanceled:
		o.State = OrderStateCanceled
	case schema.OrderAckStatusExpired:
		o.State = OrderStateExpired
	case schema.OrderAckStatusPartFilled:
		o.State = OrderStatePartFilled
	case schema.OrderAckStatusFilled:
		o.State = OrderStateFilled
	default:
		return o, ErrInvalidTransition
	}
	if o.State.Terminal() {
		o.LeavesQty = 0
	}
	o.UpdatedAt = now
	return o, nil
}

func (m *stateMachine) applyFill(fill schema.Fill, now int64) (*Order, error) {
	o, ok := m.orders[fill.OrderID]
	if !ok {
		return nil, ErrUnknownOrder
	}
	// a venue may report cancel before the last fill arrives
	if o.State == OrderStateFilled || o.State == OrderStateRejected {
		return o, ErrInvalidTransition
	}
	if fill.Qty <= 0 {
		return o, ErrInvalidFill
	}
	o.FilledQty += fill.Qty
	leaves := o.Qty - o.FilledQty
	if leaves <= 0 {
		o.LeavesQty = 0
		o.State = OrderStateFilled
	} else if !o.State.Terminal() {
		o.LeavesQty = leaves
		o.State = OrderStatePartFilled
	}
	o.UpdatedAt = now
	return o, nil
}
