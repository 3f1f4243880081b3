package obs

import (
	"sync/atomic"
	"time"

	"livebridge/internal/schema"
)

const (
	maxEventType  = int(schema.EventDrift)
	maxRiskReason = int(schema.RiskReasonInvalid)
)

// BrokerError classifies broker call failures for counting.
type BrokerError int

const (
	BrokerErrorTimeout BrokerError = iota
	BrokerErrorConnection
	BrokerErrorVenueReject
	BrokerErrorOther
	brokerErrorCount
)

var brokerErrorNames = [brokerErrorCount]string{"timeout", "connection", "venue_reject", "other"}

func (k BrokerError) String() string {
	if k >= 0 && k < brokerErrorCount {
		return brokerErrorNames[k]
	}
	return "other"
}

// Metrics collects lightweight counters and latency stats. All methods are
// safe on a nil receiver.
type Metrics struct {
	eventCounts      [maxEventType + 1]atomic.Uint64
	riskReasonCounts [maxRiskReason + 1]atomic.Uint64
	brokerErrors     [brokerErrorCount]atomic.Uint64

	ordersApproved atomic.Uint64
	fillsApplied   atomic.Uint64
	fillsDuplicate atomic.Uint64
	ticksLate      atomic.Uint64
	barsSealed     atomic.Uint64
	barsDropped    atomic.Uint64
	driftDetected  atomic.Uint64
	queueDrops     atomic.Uint64
	killSwitch     atomic.Bool

	riskEvalLatency   LatencyStats
	brokerCallLatency LatencyStats
	barToOrderLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count atomic.Uint64
	sum   atomic.Uint64
	min   atomic.Uint64
	max   atomic.Uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Sum   time.Duration
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts       map[schema.EventType]uint64
	RiskReasonCounts  map[schema.RiskReason]uint64
	BrokerErrors      map[BrokerError]uint64
	OrdersApproved    uint64
	FillsApplied      uint64
	FillsDuplicate    uint64
	TicksLate         uint64
	BarsSealed        uint64
	BarsDropped       uint64
	DriftDetected     uint64
	QueueDrops        uint64
	KillSwitch        bool
	RiskEvalLatency   LatencySnapshot
	BrokerCallLatency LatencySnapshot
	BarToOrderLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts a recorded event by type.
func (m *Metrics) ObserveEvent(t schema.EventType) {
	if m == nil {
		return
	}
	if idx := int(t); idx >= 0 && idx < len(m.eventCounts) {
		m.eventCounts[idx].Add(1)
	}
}

// ObserveRiskDecision counts approvals and rejections by reason and records
// evaluation latency.
func (m *Metrics) ObserveRiskDecision(d schema.RiskDecision, took time.Duration) {
	if m == nil {
		return
	}
	if d.Allowed() {
		m.ordersApproved.Add(1)
	} else if idx := int(d.Reason); idx >= 0 && idx < len(m.riskReasonCounts) {
		m.riskReasonCounts[idx].Add(1)
	}
	m.riskEvalLatency.Observe(took)
}

// ObserveBrokerCall records the latency of one broker round trip.
func (m *Metrics) ObserveBrokerCall(d time.Duration) {
	if m == nil {
		return
	}
	m.brokerCallLatency.Observe(d)
}

// IncBrokerError counts a failed broker call.
func (m *Metrics) IncBrokerError(kind BrokerError) {
	if m == nil || kind < 0 || kind >= brokerErrorCount {
		return
	}
	m.brokerErrors[kind].Add(1)
}

// IncFill counts an applied fill, or a replayed one when duplicate is set.
func (m *Metrics) IncFill(duplicate bool) {
	if m == nil {
		return
	}
	if duplicate {
		m.fillsDuplicate.Add(1)
		return
	}
	m.fillsApplied.Add(1)
}

// IncLateTick counts a tick discarded for arriving behind the bar clock.
func (m *Metrics) IncLateTick() {
	if m == nil {
		return
	}
	m.ticksLate.Add(1)
}

// IncBarSealed counts an emitted bar.
func (m *Metrics) IncBarSealed() {
	if m == nil {
		return
	}
	m.barsSealed.Add(1)
}

// IncBarDropped counts a sealed bar that could not be delivered.
func (m *Metrics) IncBarDropped() {
	if m == nil {
		return
	}
	m.barsDropped.Add(1)
}

// IncDrift counts a drift check that found a mismatch.
func (m *Metrics) IncDrift() {
	if m == nil {
		return
	}
	m.driftDetected.Add(1)
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	m.queueDrops.Add(1)
}

// SetKillSwitch mirrors the kill-switch state.
func (m *Metrics) SetKillSwitch(tripped bool) {
	if m == nil {
		return
	}
	m.killSwitch.Store(tripped)
}

// ObserveBarToOrder measures the delay between a bar seal and its orders.
func (m *Metrics) ObserveBarToOrder(d time.Duration) {
	if m == nil {
		return
	}
	m.barToOrderLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		EventCounts:       make(map[schema.EventType]uint64),
		RiskReasonCounts:  make(map[schema.RiskReason]uint64),
		BrokerErrors:      make(map[BrokerError]uint64),
		OrdersApproved:    m.ordersApproved.Load(),
		FillsApplied:      m.fillsApplied.Load(),
		FillsDuplicate:    m.fillsDuplicate.Load(),
		TicksLate:         m.ticksLate.Load(),
		BarsSealed:        m.barsSealed.Load(),
		BarsDropped:       m.barsDropped.Load(),
		DriftDetected:     m.driftDetected.Load(),
		QueueDrops:        m.queueDrops.Load(),
		KillSwitch:        m.killSwitch.Load(),
		RiskEvalLatency:   m.riskEvalLatency.Snapshot(),
		BrokerCallLatency: m.brokerCallLatency.Snapshot(),
		BarToOrderLatency: m.barToOrderLatency.Snapshot(),
	}
	for i := range m.eventCounts {
		if v := m.eventCounts[i].Load(); v > 0 {
			snap.EventCounts[schema.EventType(i)] = v
		}
	}
	for i := range m.riskReasonCounts {
		if v := m.riskReasonCounts[i].Load(); v > 0 {
			snap.RiskReasonCounts[schema.RiskReason(i)] = v
		}
	}
	for i := range m.brokerErrors {
		if v := m.brokerErrors[i].Load(); v > 0 {
			snap.BrokerErrors[BrokerError(i)] = v
		}
	}
	return snap
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	l.count.Add(1)
	l.sum.Add(nanos)

	for {
		cur := l.min.Load()
		if cur != 0 && nanos >= cur {
			break
		}
		if l.min.CompareAndSwap(cur, nanos) {
			break
		}
	}
	for {
		cur := l.max.Load()
		if nanos <= cur {
			break
		}
		if l.max.CompareAndSwap(cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := l.count.Load()
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := l.sum.Load()
	return LatencySnapshot{
		Count: count,
		Sum:   time.Duration(sum),
		Min:   time.Duration(l.min.Load()),
		Max:   time.Duration(l.max.Load()),
		Avg:   time.Duration(sum / count),
	}
}
