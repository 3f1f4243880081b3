// Package safety puts the local risk gate in front of every order that leaves
// the process and reconciles broker fills back into the virtual portfolio.
package safety

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"livebridge/internal/broker"
	"livebridge/internal/obs"
	"livebridge/internal/og"
	"livebridge/internal/portfolio"
	"livebridge/internal/risk"
	"livebridge/internal/schema"
	"livebridge/pkg/exception"

	"github.com/yanun0323/logs"
)

const defaultMaxConnFailures = 5

// Journal receives every event crossing the safe path: risk decisions, acks,
// fills and drift records.
type Journal interface {
	Record(v any, tsEvent int64)
}

// Config tunes failure handling.
type Config struct {
	// MaxConsecutiveConnFailures turns repeated connection errors into
	// exception.ErrBrokerUnreachable. Zero uses the default, negative disables.
	MaxConsecutiveConnFailures int             `json:"maxConsecutiveConnFailures" yaml:"max_consecutive_conn_failures"`
	DriftCashTolerance         schema.Notional `json:"driftCashTolerance" yaml:"drift_cash_tolerance"`
}

// Deps are the owned collaborators. Broker, Risk and Portfolio are required.
type Deps struct {
	Broker    *broker.Serialized
	Risk      *risk.State
	Portfolio *portfolio.Portfolio
	Orders    *og.Tracker
	Metrics   *obs.Metrics
	Journal   Journal
	Clock     func() time.Time
}

// SafeBroker is the only path from strategy intents to the broker.
type SafeBroker struct {
	cfg       Config
	broker    *broker.Serialized
	risk      *risk.State
	portfolio *portfolio.Portfolio
	orders    *og.Tracker
	metrics   *obs.Metrics
	journal   Journal
	clock     func() time.Time

	connFailures atomic.Int64
}

// New wires a SafeBroker.
func New(cfg Config, deps Deps) (*SafeBroker, error) {
	if deps.Broker == nil || deps.Risk == nil || deps.Portfolio == nil {
		return nil, fmt.Errorf("safety: broker, risk and portfolio are required: %w", exception.ErrNilInstance)
	}
	if cfg.MaxConsecutiveConnFailures == 0 {
		cfg.MaxConsecutiveConnFailures = defaultMaxConnFailures
	}
	if deps.Orders == nil {
		deps.Orders = og.NewTracker()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &SafeBroker{
		cfg:       cfg,
		broker:    deps.Broker,
		risk:      deps.Risk,
		portfolio: deps.Portfolio,
		orders:    deps.Orders,
		metrics:   deps.Metrics,
		journal:   deps.Journal,
		clock:     deps.Clock,
	}, nil
}

// Orders returns the order tracker.
func (s *SafeBroker) Orders() *og.Tracker {
	return s.orders
}

// Submit gates intent through the risk state and forwards it only when
// approved. A rejection never touches the broker. Any broker failure releases
// the reservation before the error is returned.
func (s *SafeBroker) Submit(ctx context.Context, intent schema.OrderIntent) (broker.OrderHandle, error) {
	now := s.clock().UnixNano()
	start := time.Now()
	decision := s.risk.EvaluateAndReserve(intent, now)
	s.metrics.ObserveRiskDecision(decision, time.Since(start))
	s.record(decision, now)
	if !decision.Allowed() {
		if decision.Reason == schema.RiskReasonKillSwitch {
			s.metrics.SetKillSwitch(true)
		}
		return broker.OrderHandle{}, &RiskRejectedError{Decision: decision}
	}

	if _, err := s.orders.Track(intent, now); err != nil {
		s.risk.Release(intent.OrderID)
		return broker.OrderHandle{}, fmt.Errorf("track order %d: %w: %w", intent.OrderID, exception.ErrOrderDuplicate, err)
	}

	callStart := time.Now()
	handle, err := s.broker.Submit(ctx, intent)
	s.metrics.ObserveBrokerCall(time.Since(callStart))
	if err != nil {
		return broker.OrderHandle{}, s.submitFailed(intent, err)
	}
	s.connFailures.Store(0)

	done := s.clock().UnixNano()
	if _, err := s.orders.MarkSent(intent.OrderID, handle.BrokerID, done); err != nil {
		logs.Errorf("mark order %d sent, err: %+v", intent.OrderID, err)
	}
	s.record(schema.OrderAck{
		OrderID:   intent.OrderID,
		SymbolID:  intent.SymbolID,
		Status:    schema.OrderAckStatusAcked,
		Price:     intent.Price,
		Qty:       intent.Qty,
		LeavesQty: intent.Qty,
	}, done)
	return handle, nil
}

func (s *SafeBroker) submitFailed(intent schema.OrderIntent, err error) error {
	now := s.clock().UnixNano()
	s.risk.Release(intent.OrderID)

	ack := schema.OrderAck{OrderID: intent.OrderID, SymbolID: intent.SymbolID, Status: schema.OrderAckStatusRejected, Price: intent.Price, Qty: intent.Qty}
	switch {
	case errors.Is(err, exception.ErrTimeout):
		// the venue may still have the order; keep it open so a late fill is tracked
		s.metrics.IncBrokerError(obs.BrokerErrorTimeout)
		ack.Reason = schema.OrderAckReasonTimeout
		s.record(ack, now)
		return err
	case errors.Is(err, exception.ErrRejectedByVenue):
		s.metrics.IncBrokerError(obs.BrokerErrorVenueReject)
		s.connFailures.Store(0)
		ack.Reason = schema.OrderAckReasonExchangeReject
	case errors.Is(err, exception.ErrConnection):
		s.metrics.IncBrokerError(obs.BrokerErrorConnection)
		ack.Reason = schema.OrderAckReasonConnection
	default:
		s.metrics.IncBrokerError(obs.BrokerErrorOther)
	}
	if _, ferr := s.orders.Fail(intent.OrderID, now); ferr != nil {
		logs.Errorf("fail order %d, err: %+v", intent.OrderID, ferr)
	}
	s.record(ack, now)

	if ack.Reason == schema.OrderAckReasonConnection && s.cfg.MaxConsecutiveConnFailures > 0 {
		if n := s.connFailures.Add(1); n >= int64(s.cfg.MaxConsecutiveConnFailures) {
			return fmt.Errorf("%d consecutive connection failures: %w: %w", n, exception.ErrBrokerUnreachable, err)
		}
	}
	return err
}

// Cancel asks the broker to cancel an open order. The reservation is released
// when the broker confirms.
func (s *SafeBroker) Cancel(ctx context.Context, orderID uint64) (bool, error) {
	o, ok := s.orders.Order(orderID)
	if !ok {
		return false, fmt.Errorf("cancel %d: %w", orderID, exception.ErrOrderUnknown)
	}
	if o.State.Terminal() {
		return false, nil
	}
	if o.BrokerID == "" {
		return false, fmt.Errorf("cancel %d: %w", orderID, exception.ErrUnknownHandle)
	}
	ok, err := s.broker.Cancel(ctx, broker.OrderHandle{OrderID: orderID, BrokerID: o.BrokerID, SymbolID: o.SymbolID})
	if err != nil {
		return false, err
	}
	if ok {
		s.applyUpdate(broker.OrderUpdate{
			Handle:  broker.OrderHandle{OrderID: orderID, BrokerID: o.BrokerID, SymbolID: o.SymbolID},
			Status:  schema.OrderAckStatusCanceled,
			TsEvent: s.clock().UnixNano(),
		})
	}
	return ok, nil
}

// CancelAll cancels every open order and returns the first error.
func (s *SafeBroker) CancelAll(ctx context.Context) error {
	var first error
	for _, o := range s.orders.Open() {
		if _, err := s.Cancel(ctx, o.ID); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RunReconciler consumes fills and order updates in arrival order until ctx
// ends or the broker closes its fill stream.
func (s *SafeBroker) RunReconciler(ctx context.Context) error {
	fills := s.broker.Fills()
	updates := s.broker.Updates()
	for {
		select {
		case <-ctx.Done():
			return nil
		case fill, ok := <-fills:
			if !ok {
				return fmt.Errorf("fill stream: %w", exception.ErrBrokerClosed)
			}
			if err := s.ApplyFill(fill); err != nil {
				logs.Errorf("apply fill %d of order %d, err: %+v", fill.FillID, fill.OrderID, err)
			}
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			s.applyUpdate(u)
		}
	}
}

// ApplyFill books a fill into the portfolio and, the first time a fill ID is
// seen, reconciles the risk reservation and the order state.
func (s *SafeBroker) ApplyFill(fill schema.Fill) error {
	applied, err := s.portfolio.ApplyFill(fill)
	if err != nil {
		return err
	}
	s.metrics.IncFill(!applied)
	if !applied {
		return nil
	}
	s.record(fill, fill.TsEvent)
	s.risk.ApplyFill(fill)
	if _, err := s.orders.ApplyFill(fill, s.clock().UnixNano()); err != nil && !errors.Is(err, og.ErrUnknownOrder) {
		logs.Errorf("track fill %d of order %d, err: %+v", fill.FillID, fill.OrderID, err)
	}
	return nil
}

func (s *SafeBroker) applyUpdate(u broker.OrderUpdate) {
	ack := schema.OrderAck{
		OrderID:   u.Handle.OrderID,
		SymbolID:  u.Handle.SymbolID,
		Status:    u.Status,
		LeavesQty: u.LeavesQty,
	}
	if ack.OrderID == 0 && u.Handle.BrokerID != "" {
		ack.OrderID, _ = s.orders.ByBrokerID(u.Handle.BrokerID)
	}
	switch u.Status {
	case schema.OrderAckStatusRejected:
		ack.Reason = schema.OrderAckReasonExchangeReject
	case schema.OrderAckStatusCanceled, schema.OrderAckStatusExpired:
		ack.Reason = schema.OrderAckReasonCanceled
	}
	o, err := s.orders.ApplyAck(ack, s.clock().UnixNano())
	switch {
	case err == nil:
	case errors.Is(err, og.ErrInvalidTransition):
		if o.State.Terminal() {
			// already settled, e.g. the venue echoing a cancel confirmed by Cancel
			return
		}
	default:
		logs.Errorf("apply update for order %d, err: %+v", ack.OrderID, err)
	}
	switch u.Status {
	case schema.OrderAckStatusRejected, schema.OrderAckStatusCanceled, schema.OrderAckStatusExpired:
		s.risk.Release(ack.OrderID)
	}
	s.record(ack, u.TsEvent)
}

// CheckDrift compares the virtual portfolio with what the broker reports.
// Drift is journaled and counted, never corrected.
func (s *SafeBroker) CheckDrift(ctx context.Context) (portfolio.DriftReport, error) {
	positions, err := s.broker.Positions(ctx)
	if err != nil {
		return portfolio.DriftReport{}, fmt.Errorf("positions: %w", err)
	}
	acct, err := s.broker.Account(ctx)
	if err != nil {
		return portfolio.DriftReport{}, fmt.Errorf("account: %w", err)
	}
	report := s.portfolio.Compare(portfolio.BrokerView{Cash: acct.Cash, HasCash: true, Positions: positions})
	if report.Clean(s.cfg.DriftCashTolerance) {
		return report, nil
	}
	s.metrics.IncDrift()
	now := s.clock().UnixNano()
	for _, r := range report.Records(now) {
		s.record(r, now)
	}
	logs.Errorf("drift detected: %d symbols, cash delta %d", len(report.Symbols), report.CashDelta())
	return report, nil
}

func (s *SafeBroker) record(v any, ts int64) {
	if s.journal != nil {
		s.journal.Record(v, ts)
	}
}

// Journals fans a record out to several journals.
type Journals []Journal

func (js Journals) Record(v any, tsEvent int64) {
	for _, j := range js {
		if j != nil {
			j.Record(v, tsEvent)
		}
	}
}
