package broker

import (
	"context"

	"livebridge/internal/schema"
)

// OrderHandle identifies a submitted order on both sides of the boundary.
type OrderHandle struct {
	OrderID  uint64
	BrokerID string
	SymbolID schema.SymbolID
}

// AccountState is what the broker reports about the account.
type AccountState struct {
	Cash   schema.Notional
	Equity schema.Notional
}

// OrderUpdate is an asynchronous, non-fill change of order status reported
// by the venue: rejection after acceptance, cancellation or expiry.
type OrderUpdate struct {
	Handle    OrderHandle
	Status    schema.OrderAckStatus
	LeavesQty schema.Quantity
	Reason    string
	TsEvent   int64
}

// Broker is the blocking broker capability. Every call may perform network
// I/O and must honor ctx. Implementations need not be safe for concurrent use;
// wrap them with Serialized.
//
// Submit fails with exception.ErrConnection or exception.ErrRejectedByVenue.
// Fills are pushed on the Fills channel, never returned inline.
type Broker interface {
	Submit(ctx context.Context, intent schema.OrderIntent) (OrderHandle, error)
	Cancel(ctx context.Context, handle OrderHandle) (bool, error)
	Positions(ctx context.Context) (map[schema.SymbolID]schema.Quantity, error)
	Account(ctx context.Context) (AccountState, error)
	Fills() <-chan schema.Fill
}

// UpdateStreamer is implemented by brokers that push order status changes.
type UpdateStreamer interface {
	Updates() <-chan OrderUpdate
}

// Updates returns b's update stream, or nil when b does not provide one.
func Updates(b Broker) <-chan OrderUpdate {
	if s, ok := b.(UpdateStreamer); ok {
		return s.Updates()
	}
	return nil
}
