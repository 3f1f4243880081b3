package obs

import (
	"testing"
	"time"

	"livebridge/internal/schema"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.ObserveEvent(schema.EventFill)
	m.ObserveEvent(schema.EventFill)
	m.ObserveRiskDecision(schema.RiskDecision{Action: schema.RiskActionAllow}, time.Microsecond)
	m.ObserveRiskDecision(schema.RiskDecision{Action: schema.RiskActionDeny, Reason: schema.RiskReasonDailyLoss}, 3*time.Microsecond)
	m.IncBrokerError(BrokerErrorTimeout)
	m.IncFill(false)
	m.IncFill(true)
	m.SetKillSwitch(true)

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.EventCounts[schema.EventFill])
	assert.Equal(t, uint64(1), s.OrdersApproved)
	assert.Equal(t, uint64(1), s.RiskReasonCounts[schema.RiskReasonDailyLoss])
	assert.Equal(t, uint64(1), s.BrokerErrors[BrokerErrorTimeout])
	assert.Equal(t, uint64(1), s.FillsApplied)
	assert.Equal(t, uint64(1), s.FillsDuplicate)
	assert.True(t, s.KillSwitch)

	assert.Equal(t, uint64(2), s.RiskEvalLatency.Count)
	assert.Equal(t, time.Microsecond, s.RiskEvalLatency.Min)
	assert.Equal(t, 3*time.Microsecond, s.RiskEvalLatency.Max)
	assert.Equal(t, 2*time.Microsecond, s.RiskEvalLatency.Avg)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEvent(schema.EventTick)
	m.IncLateTick()
	m.IncBrokerError(BrokerErrorConnection)
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestCollectorRegisters(t *testing.T) {
	m := NewMetrics()
	m.IncBarSealed()
	m.IncDrift()

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector("livebridge", m, func() map[string]float64 {
		return map[string]float64{"equity": 1000}
	})))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["livebridge_bars_total"])
	assert.True(t, names["livebridge_drift_detected_total"])
	assert.True(t, names["livebridge_gauge"])
	assert.True(t, names["livebridge_latency_seconds_total"])
}
