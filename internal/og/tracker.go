package og

import (
	"sort"
	"sync"

	"livebridge/internal/schema"
)

// Tracker is the synchronized registry of orders sent through the safe path.
// It maps client order IDs to broker IDs and lists open orders for cancel-all
// and shutdown. It never resubmits anything on its own.
type Tracker struct {
	mu       sync.Mutex
	sm       *stateMachine
	byBroker map[string]uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sm:       newStateMachine(),
		byBroker: make(map[string]uint64),
	}
}

// Track registers an approved intent before it is sent.
func (t *Tracker) Track(intent schema.OrderIntent, now int64) (Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, err := t.sm.applyIntent(intent, now)
	if err != nil {
		return Order{}, err
	}
	return *o, nil
}

// MarkSent records the broker ID returned by a successful submit.
func (t *Tracker) MarkSent(orderID uint64, brokerID string, now int64) (Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.sm.orders[orderID]
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	if o.State == OrderStateNew {
		o.State = OrderStateSent
	}
	if brokerID != "" {
		o.BrokerID = brokerID
		t.byBroker[brokerID] = orderID
	}
	o.UpdatedAt = now
	return *o, nil
}

// ApplyAck advances an order from a venue acknowledgment.
func (t *Tracker) ApplyAck(ack schema.OrderAck, now int64) (Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, err := t.sm.applyAck(ack, now)
	if o == nil {
		return Order{}, err
	}
	return *o, err
}

// ApplyFill advances an order from a fill.
func (t *Tracker) ApplyFill(fill schema.Fill, now int64) (Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, err := t.sm.applyFill(fill, now)
	if o == nil {
		return Order{}, err
	}
	return *o, err
}

// Fail marks an order that never reached the venue as rejected.
func (t *Tracker) Fail(orderID uint64, now int64) (Order, error) {
	return t.ApplyAck(schema.OrderAck{OrderID: orderID, Status: schema.OrderAckStatusRejected}, now)
}

// Order returns a copy of an order.
func (t *Tracker) Order(orderID uint64) (Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.sm.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// ByBrokerID resolves a broker order ID to the client order ID.
func (t *Tracker) ByBrokerID(brokerID string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byBroker[brokerID]
	return id, ok
}

// Open returns every non-terminal order sorted by ID.
func (t *Tracker) Open() []Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Order, 0)
	for _, o := range t.sm.orders {
		if !o.State.Terminal() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Prune forgets terminal orders last updated before cutoff and returns how many.
func (t *Tracker) Prune(cutoff int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, o := range t.sm.orders {
		if o.State.Terminal() && o.UpdatedAt < cutoff {
			delete(t.sm.orders, id)
			if o.BrokerID != "" {
				delete(t.byBroker, o.BrokerID)
			}
			n++
		}
	}
	return n
}
