package schema

// Price is a scaled integer. The scale is defined by configuration.
type Price int64

// Quantity is a scaled integer. The scale is defined by configuration.
type Quantity int64

// Notional is price units multiplied by quantity units.
// Cash balances and P&L are expressed in notional units.
type Notional int64

// Fee is expressed in notional units.
type Fee int64

// Tick is a single trade print delivered by a feed source.
type Tick struct {
	SymbolID SymbolID
	Flags    uint16
	Price    Price
	Size     Quantity
	TsEvent  int64
}

// Bar is a fixed-interval OHLCV aggregate. Start is inclusive, End is exclusive.
type Bar struct {
	SymbolID SymbolID
	Final    bool
	Trades   uint32
	Open     Price
	High     Price
	Low      Price
	Close    Price
	Volume   Quantity
	Start    int64
	End      int64
}

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() int64 {
	switch s {
	case OrderSideBuy:
		return 1
	case OrderSideSell:
		return -1
	default:
		return 0
	}
}

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

// TimeInForce describes order time-in-force.
type TimeInForce uint16

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
	TimeInForceDay
)

// OrderIntent is an order produced by a strategy. It is immutable once submitted.
type OrderIntent struct {
	OrderID     uint64
	StrategyID  uint32
	SymbolID    SymbolID
	Side        OrderSide
	Type        OrderType
	TimeInForce TimeInForce
	Flags       uint16
	Price       Price
	Qty         Quantity
}

// OrderAckStatus describes the outcome of an order acknowledgment.
type OrderAckStatus uint16

const (
	OrderAckStatusUnknown OrderAckStatus = iota
	OrderAckStatusAcked
	OrderAckStatusRejected
	OrderAckStatusCanceled
	OrderAckStatusExpired
	OrderAckStatusPartFilled
	OrderAckStatusFilled
)

// OrderAckReason describes the reason for an order acknowledgment.
type OrderAckReason uint16

const (
	OrderAckReasonNone OrderAckReason = iota
	OrderAckReasonExchangeReject
	OrderAckReasonRiskReject
	OrderAckReasonRateLimit
	OrderAckReasonConnection
	OrderAckReasonTimeout
	OrderAckReasonCanceled
)

// OrderAck records the outcome of a submit or cancel.
type OrderAck struct {
	OrderID   uint64
	SymbolID  SymbolID
	Status    OrderAckStatus
	Reason    OrderAckReason
	Price     Price
	Qty       Quantity
	LeavesQty Quantity
}

// RiskAction is the outcome of a risk decision.
type RiskAction uint16

const (
	RiskActionUnknown RiskAction = iota
	RiskActionAllow
	RiskActionDeny
)

// RiskReason is a coarse reason code for risk decisions.
type RiskReason uint16

const (
	RiskReasonNone RiskReason = iota
	RiskReasonKillSwitch
	RiskReasonMaxQty
	RiskReasonMaxNotional
	RiskReasonRateLimit
	RiskReasonPriceBand
	RiskReasonPositionLimit
	RiskReasonAggregateExposure
	RiskReasonDailyLoss
	RiskReasonNoReference
	RiskReasonInvalid
)

var riskReasonNames = [...]string{
	RiskReasonNone:              "none",
	RiskReasonKillSwitch:        "kill_switch",
	RiskReasonMaxQty:            "max_order_qty",
	RiskReasonMaxNotional:       "max_order_notional",
	RiskReasonRateLimit:         "max_orders_per_window",
	RiskReasonPriceBand:         "max_price_deviation",
	RiskReasonPositionLimit:     "max_symbol_exposure",
	RiskReasonAggregateExposure: "max_aggregate_exposure",
	RiskReasonDailyLoss:         "max_daily_loss",
	RiskReasonNoReference:       "no_reference_price",
	RiskReasonInvalid:           "invalid_order",
}

func (r RiskReason) String() string {
	if int(r) < len(riskReasonNames) {
		return riskReasonNames[r]
	}
	return "unknown"
}

// RiskDecision is the outcome of a risk evaluation, including the projections it used.
type RiskDecision struct {
	OrderID           uint64
	StrategyID        uint32
	SymbolID          SymbolID
	Action            RiskAction
	Reason            RiskReason
	ProposedQty       Quantity
	ProposedPrice     Price
	CurrentPos        Quantity
	ProjectedPos      Quantity
	MaxPos            Quantity
	ProjectedNotional Notional
	MaxNotional       Notional
	ProjectedLoss     Notional
	MaxLoss           Notional
}

// Allowed reports whether the decision approved the order.
func (d RiskDecision) Allowed() bool {
	return d.Action == RiskActionAllow
}

// Fill is a single execution reported by the broker. FillID is unique per execution.
type Fill struct {
	FillID   uint64
	OrderID  uint64
	SymbolID SymbolID
	Side     OrderSide
	Flags    uint16
	Price    Price
	Qty      Quantity
	Fee      Fee
	TsEvent  int64
}

// DriftRecord is one line of a drift report. SymbolID 0 denotes the cash line.
type DriftRecord struct {
	SymbolID SymbolID
	Virtual  int64
	Broker   int64
	TsEvent  int64
}
