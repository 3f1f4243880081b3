package risk

import (
	"sort"
	"sync"

	"livebridge/internal/schema"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Reservation is the exposure and loss budget held by an approved order until
// its outcome is known.
type Reservation struct {
	OrderID   uint64
	SymbolID  schema.SymbolID
	Side      schema.OrderSide
	Price     schema.Price
	Qty       schema.Quantity
	Notional  schema.Notional
	WorstLoss schema.Notional
	CreatedAt int64
}

// Snapshot is a point-in-time copy of the risk state.
type Snapshot struct {
	Positions       map[schema.SymbolID]schema.Quantity
	PendingBuy      map[schema.SymbolID]schema.Quantity
	PendingSell     map[schema.SymbolID]schema.Quantity
	Reservations    int
	ReservedLoss    schema.Notional
	DailyPnL        schema.Notional
	OrdersInWindow  int
	KillSwitch      bool
	KillSwitchCause schema.RiskReason
}

// State holds the mutable risk view and evaluates orders against Config.
// Every method is serialized by one mutex and none of them performs I/O.
type State struct {
	cfg Config

	mu           sync.Mutex
	positions    map[schema.SymbolID]schema.Quantity
	pendingBuy   map[schema.SymbolID]schema.Quantity
	pendingSell  map[schema.SymbolID]schema.Quantity
	marks        map[schema.SymbolID]schema.Price
	reservations map[uint64]*Reservation
	reservedLoss schema.Notional
	dailyPnL     schema.Notional
	window       rollingWindow
	killed       bool
	killCause    schema.RiskReason
}

// NewState creates a risk state. cfg is copied and never mutated afterwards.
func NewState(cfg Config) (*State, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &State{
		cfg:          cfg,
		positions:    make(map[schema.SymbolID]schema.Quantity),
		pendingBuy:   make(map[schema.SymbolID]schema.Quantity),
		pendingSell:  make(map[schema.SymbolID]schema.Quantity),
		marks:        make(map[schema.SymbolID]schema.Price),
		reservations: make(map[uint64]*Reservation),
	}
	if cfg.KillSwitch {
		s.killed = true
		s.killCause = schema.RiskReasonKillSwitch
	}
	return s, nil
}

// Config returns the configuration the state was built with.
func (s *State) Config() Config {
	return s.cfg
}

// EvaluateAndReserve checks intent against every limit and, when approved,
// commits its reservation before returning. Concurrent callers observe each
// other's reservations.
//
// Projected exposure includes intent's own quantity on top of the filled
// position and the open reservations of the same side. From 900 against a
// limit of 1000, a 150 order is denied even when nothing else is pending.
func (s *State) EvaluateAndReserve(intent schema.OrderIntent, now int64) schema.RiskDecision {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.positions[intent.SymbolID]
	decision := schema.RiskDecision{
		OrderID:       intent.OrderID,
		StrategyID:    intent.StrategyID,
		SymbolID:      intent.SymbolID,
		Action:        schema.RiskActionDeny,
		ProposedQty:   intent.Qty,
		ProposedPrice: intent.Price,
		CurrentPos:    pos,
		MaxPos:        s.cfg.MaxSymbolExposure,
		MaxNotional:   s.cfg.MaxOrderNotional,
		MaxLoss:       s.cfg.MaxDailyLoss,
	}

	if s.killed {
		decision.Reason = schema.RiskReasonKillSwitch
		return decision
	}

	if !validIntent(intent) {
		decision.Reason = schema.RiskReasonInvalid
		return decision
	}
	if _, dup := s.reservations[intent.OrderID]; dup {
		decision.Reason = schema.RiskReasonInvalid
		return decision
	}

	if s.cfg.MaxOrderQty > 0 && intent.Qty > s.cfg.MaxOrderQty {
		decision.Reason = schema.RiskReasonMaxQty
		return decision
	}

	mark := s.markLocked(intent.SymbolID)
	ref := referencePrice(intent, mark)
	if ref <= 0 {
		decision.Reason = schema.RiskReasonNoReference
		return decision
	}

	if s.cfg.MaxPriceDeviationBps > 0 && intent.Type == schema.OrderTypeLimit && mark > 0 {
		diff := absInt64(int64(intent.Price) - int64(mark))
		if exceedsDeviation(diff, int64(mark), s.cfg.MaxPriceDeviationBps) {
			decision.Reason = schema.RiskReasonPriceBand
			return decision
		}
	}

	notional, overflow := schema.MulNotional(ref, intent.Qty)
	decision.ProjectedNotional = notional
	if overflow {
		decision.Reason = schema.RiskReasonMaxNotional
		return decision
	}
	if s.cfg.MaxOrderNotional > 0 && notional > s.cfg.MaxOrderNotional {
		decision.Reason = schema.RiskReasonMaxNotional
		return decision
	}

	buy := s.pendingBuy[intent.SymbolID]
	sell := s.pendingSell[intent.SymbolID]
	if intent.Side == schema.OrderSideBuy {
		buy += intent.Qty
	} else {
		sell += intent.Qty
	}
	projected := worstPosition(pos, buy, sell)
	decision.ProjectedPos = projected
	if s.cfg.MaxSymbolExposure > 0 && schema.AbsQuantity(projected) > s.cfg.MaxSymbolExposure {
		decision.Reason = schema.RiskReasonPositionLimit
		return decision
	}

	if s.cfg.MaxAggregateExposure > 0 {
		gross := s.grossExposureLocked(intent.SymbolID, ref, buy, sell)
		decision.ProjectedNotional = gross
		if gross > s.cfg.MaxAggregateExposure {
			decision.Reason = schema.RiskReasonAggregateExposure
			return decision
		}
	}

	worst := s.cfg.Loss.WorstLoss(intent, mark)
	projectedLoss := addSaturated(addSaturated(lossOf(s.dailyPnL), s.reservedLoss), worst)
	decision.ProjectedLoss = projectedLoss
	if s.cfg.MaxDailyLoss > 0 && projectedLoss > s.cfg.MaxDailyLoss {
		decision.Reason = schema.RiskReasonDailyLoss
		return decision
	}

	if s.cfg.MaxOrdersPerWindow > 0 {
		s.window.prune(now, int64(s.cfg.WindowDuration))
		if s.window.count() >= s.cfg.MaxOrdersPerWindow {
			decision.Reason = schema.RiskReasonRateLimit
			return decision
		}
		s.window.add(now)
	}

	s.reservations[intent.OrderID] = &Reservation{
		OrderID:   intent.OrderID,
		SymbolID:  intent.SymbolID,
		Side:      intent.Side,
		Price:     ref,
		Qty:       intent.Qty,
		Notional:  schema.AbsNotional(notional),
		WorstLoss: worst,
		CreatedAt: now,
	}
	if intent.Side == schema.OrderSideBuy {
		s.pendingBuy[intent.SymbolID] = buy
	} else {
		s.pendingSell[intent.SymbolID] = sell
	}
	s.reservedLoss = addSaturated(s.reservedLoss, worst)

	decision.Action = schema.RiskActionAllow
	decision.Reason = schema.RiskReasonNone
	return decision
}

// ApplyFill moves filled quantity from the order's reservation into the
// position. The reservation is finalized once fully filled. Fills for unknown
// orders still update the position.
func (s *State) ApplyFill(fill schema.Fill) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[fill.SymbolID] += schema.Quantity(fill.Side.Sign() * int64(fill.Qty))
	if s.marks[fill.SymbolID] == 0 && fill.Price > 0 {
		s.marks[fill.SymbolID] = fill.Price
	}

	res, ok := s.reservations[fill.OrderID]
	if !ok {
		return
	}
	filled := fill.Qty
	if filled > res.Qty {
		filled = res.Qty
	}
	remaining := res.Qty - filled
	if remaining <= 0 {
		s.dropLocked(res)
		return
	}
	s.unpendLocked(res.SymbolID, res.Side, filled)
	loss := schema.Notional(schema.MulDiv(int64(res.WorstLoss), int64(remaining), int64(res.Qty)))
	s.reservedLoss -= res.WorstLoss - loss
	res.Notional = schema.Notional(schema.MulDiv(int64(res.Notional), int64(remaining), int64(res.Qty)))
	res.WorstLoss = loss
	res.Qty = remaining
}

// Release returns the reservation of an order that will not fill any further.
func (s *State) Release(orderID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[orderID]
	if !ok {
		return false
	}
	s.dropLocked(res)
	return true
}

// SweepStale releases reservations older than maxAge and returns their order IDs.
// A non-positive maxAge uses the configured StaleReservationAge.
func (s *State) SweepStale(now int64, maxAge int64) []uint64 {
	if maxAge <= 0 {
		maxAge = int64(s.cfg.StaleReservationAge)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []uint64
	for id, res := range s.reservations {
		if now-res.CreatedAt >= maxAge {
			s.dropLocked(res)
			released = append(released, id)
		}
	}
	sort.Slice(released, func(i, j int) bool { return released[i] < released[j] })
	return released
}

// UpdateMark records the latest reference price for a symbol.
func (s *State) UpdateMark(symbol schema.SymbolID, price schema.Price) {
	if price <= 0 {
		return
	}
	s.mu.Lock()
	s.marks[symbol] = price
	s.mu.Unlock()
}

// SetPosition overwrites a position, used when seeding from recovered fills.
func (s *State) SetPosition(symbol schema.SymbolID, qty schema.Quantity) {
	s.mu.Lock()
	s.positions[symbol] = qty
	s.mu.Unlock()
}

// UpdatePnL records the session P&L (realized plus marked unrealized). It trips
// the kill-switch and returns true when the loss reaches MaxDailyLoss.
func (s *State) UpdatePnL(daily schema.Notional) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dailyPnL = daily
	if s.killed || s.cfg.MaxDailyLoss <= 0 {
		return false
	}
	if lossOf(daily) >= s.cfg.MaxDailyLoss {
		s.killed = true
		s.killCause = schema.RiskReasonDailyLoss
		return true
	}
	return false
}

// TripKillSwitch halts new orders until ResetKillSwitch is called.
func (s *State) TripKillSwitch(cause schema.RiskReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return false
	}
	s.killed = true
	s.killCause = cause
	return true
}

// ResetKillSwitch is the operator action that re-enables order approval.
func (s *State) ResetKillSwitch() {
	s.mu.Lock()
	s.killed = false
	s.killCause = schema.RiskReasonNone
	s.mu.Unlock()
}

// KillSwitchTripped reports whether new orders are halted.
func (s *State) KillSwitchTripped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

// Reservation returns a copy of the reservation held for orderID.
func (s *State) Reservation(orderID uint64) (Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[orderID]
	if !ok {
		return Reservation{}, false
	}
	return *res, true
}

// Snapshot returns a consistent copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Positions:       make(map[schema.SymbolID]schema.Quantity, len(s.positions)),
		PendingBuy:      make(map[schema.SymbolID]schema.Quantity, len(s.pendingBuy)),
		PendingSell:     make(map[schema.SymbolID]schema.Quantity, len(s.pendingSell)),
		Reservations:    len(s.reservations),
		ReservedLoss:    s.reservedLoss,
		DailyPnL:        s.dailyPnL,
		OrdersInWindow:  s.window.count(),
		KillSwitch:      s.killed,
		KillSwitchCause: s.killCause,
	}
	for k, v := range s.positions {
		snap.Positions[k] = v
	}
	for k, v := range s.pendingBuy {
		if v != 0 {
			snap.PendingBuy[k] = v
		}
	}
	for k, v := range s.pendingSell {
		if v != 0 {
			snap.PendingSell[k] = v
		}
	}
	return snap
}

func (s *State) dropLocked(res *Reservation) {
	s.unpendLocked(res.SymbolID, res.Side, res.Qty)
	s.reservedLoss -= res.WorstLoss
	if s.reservedLoss < 0 {
		s.reservedLoss = 0
	}
	delete(s.reservations, res.OrderID)
}

func (s *State) unpendLocked(symbol schema.SymbolID, side schema.OrderSide, qty schema.Quantity) {
	pending := s.pendingSell
	if side == schema.OrderSideBuy {
		pending = s.pendingBuy
	}
	left := pending[symbol] - qty
	if left <= 0 {
		delete(pending, symbol)
		return
	}
	pending[symbol] = left
}

func (s *State) markLocked(symbol schema.SymbolID) schema.Price {
	return s.marks[symbol]
}

// grossExposureLocked sums the worst-case absolute exposure of every symbol,
// substituting the candidate order's pending totals for its own symbol.
func (s *State) grossExposureLocked(symbol schema.SymbolID, ref schema.Price, buy, sell schema.Quantity) schema.Notional {
	var gross schema.Notional
	seen := false
	add := func(sym schema.SymbolID, pos, b, sl schema.Quantity, price schema.Price) {
		qty := schema.AbsQuantity(worstPosition(pos, b, sl))
		gross = addSaturated(gross, saturatedNotional(price, qty))
	}
	for sym, pos := range s.positions {
		if sym == symbol {
			seen = true
			add(sym, pos, buy, sell, s.priceOrLocked(sym, ref))
			continue
		}
		add(sym, pos, s.pendingBuy[sym], s.pendingSell[sym], s.priceOrLocked(sym, 0))
	}
	for sym, b := range s.pendingBuy {
		if sym == symbol {
			continue
		}
		if _, ok := s.positions[sym]; !ok {
			add(sym, 0, b, s.pendingSell[sym], s.priceOrLocked(sym, 0))
		}
	}
	for sym, sl := range s.pendingSell {
		if sym == symbol {
			continue
		}
		_, hasPos := s.positions[sym]
		_, hasBuy := s.pendingBuy[sym]
		if !hasPos && !hasBuy {
			add(sym, 0, 0, sl, s.priceOrLocked(sym, 0))
		}
	}
	if !seen {
		add(symbol, 0, buy, sell, s.priceOrLocked(symbol, ref))
	}
	return gross
}

// priceOrLocked prefers the mark and falls back to the price of the oldest
// reservation on the symbol, then to fallback.
func (s *State) priceOrLocked(symbol schema.SymbolID, fallback schema.Price) schema.Price {
	if p := s.marks[symbol]; p > 0 {
		return p
	}
	if fallback > 0 {
		return fallback
	}
	var price schema.Price
	var oldest int64 = maxInt64
	for _, res := range s.reservations {
		if res.SymbolID == symbol && res.CreatedAt < oldest {
			oldest = res.CreatedAt
			price = res.Price
		}
	}
	return price
}

// worstPosition is the position furthest from flat if every pending order on
// one side fills.
func worstPosition(pos, buy, sell schema.Quantity) schema.Quantity {
	long := pos + buy
	short := pos - sell
	if schema.AbsQuantity(long) >= schema.AbsQuantity(short) {
		return long
	}
	return short
}

func validIntent(intent schema.OrderIntent) bool {
	if intent.Qty <= 0 {
		return false
	}
	if intent.Side != schema.OrderSideBuy && intent.Side != schema.OrderSideSell {
		return false
	}
	switch intent.Type {
	case schema.OrderTypeLimit:
		return intent.Price > 0
	case schema.OrderTypeMarket:
		return true
	default:
		return false
	}
}

func lossOf(pnl schema.Notional) schema.Notional {
	if pnl >= 0 {
		return 0
	}
	return -pnl
}

func addSaturated(a, b schema.Notional) schema.Notional {
	if b > 0 && int64(a) > maxInt64-int64(b) {
		return schema.Notional(maxInt64)
	}
	return a + b
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func exceedsDeviation(diff int64, ref int64, bps int64) bool {
	if diff <= 0 || ref <= 0 || bps <= 0 {
		return false
	}
	if diff > maxInt64/bpsDenominator {
		return true
	}
	lhs := diff * bpsDenominator
	if ref > maxInt64/bps {
		return true
	}
	rhs := ref * bps
	return lhs > rhs
}
