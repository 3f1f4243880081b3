package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GaugeFunc reports live values that are not counters, such as equity.
type GaugeFunc func() map[string]float64

// Collector exposes Metrics to Prometheus. Values are read from a Snapshot at
// scrape time, so the hot path only touches atomics.
type Collector struct {
	m      *Metrics
	gauges GaugeFunc

	events      *prometheus.Desc
	riskRejects *prometheus.Desc
	brokerErrs  *prometheus.Desc
	approved    *prometheus.Desc
	fills       *prometheus.Desc
	ticksLate   *prometheus.Desc
	bars        *prometheus.Desc
	drift       *prometheus.Desc
	queueDrops  *prometheus.Desc
	killSwitch  *prometheus.Desc
	latency     *prometheus.Desc
	gauge       *prometheus.Desc
}

// NewCollector builds a collector under namespace. gauges may be nil.
func NewCollector(namespace string, m *Metrics, gauges GaugeFunc) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		m:           m,
		gauges:      gauges,
		events:      desc("events_total", "Events recorded by type", "type"),
		riskRejects: desc("risk_rejections_total", "Orders rejected by the risk gate", "reason"),
		brokerErrs:  desc("broker_errors_total", "Failed broker calls by kind", "kind"),
		approved:    desc("orders_approved_total", "Orders approved by the risk gate"),
		fills:       desc("fills_total", "Fills received", "result"),
		ticksLate:   desc("ticks_late_total", "Ticks discarded for arriving behind the bar clock"),
		bars:        desc("bars_total", "Bars sealed or dropped", "result"),
		drift:       desc("drift_detected_total", "Drift checks that found a mismatch"),
		queueDrops:  desc("queue_drops_total", "Events dropped by full queues"),
		killSwitch:  desc("kill_switch", "1 when the kill-switch is tripped"),
		latency:     desc("latency_seconds_total", "Summed latency by stage", "stage", "stat"),
		gauge:       desc("gauge", "Live engine values", "name"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.events, c.riskRejects, c.brokerErrs, c.approved, c.fills, c.ticksLate,
		c.bars, c.drift, c.queueDrops, c.killSwitch, c.latency, c.gauge,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	for t, v := range s.EventCounts {
		counter(c.events, v, t.String())
	}
	for r, v := range s.RiskReasonCounts {
		counter(c.riskRejects, v, r.String())
	}
	for k, v := range s.BrokerErrors {
		counter(c.brokerErrs, v, k.String())
	}
	counter(c.approved, s.OrdersApproved)
	counter(c.fills, s.FillsApplied, "applied")
	counter(c.fills, s.FillsDuplicate, "duplicate")
	counter(c.ticksLate, s.TicksLate)
	counter(c.bars, s.BarsSealed, "sealed")
	counter(c.bars, s.BarsDropped, "dropped")
	counter(c.drift, s.DriftDetected)
	counter(c.queueDrops, s.QueueDrops)

	var ks float64
	if s.KillSwitch {
		ks = 1
	}
	ch <- prometheus.MustNewConstMetric(c.killSwitch, prometheus.GaugeValue, ks)

	for stage, l := range map[string]LatencySnapshot{
		"risk_eval":    s.RiskEvalLatency,
		"broker_call":  s.BrokerCallLatency,
		"bar_to_order": s.BarToOrderLatency,
	} {
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.CounterValue, l.Sum.Seconds(), stage, "sum")
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.CounterValue, float64(l.Count), stage, "count")
	}

	if c.gauges == nil {
		return
	}
	for name, v := range c.gauges() {
		ch <- prometheus.MustNewConstMetric(c.gauge, prometheus.GaugeValue, v, name)
	}
}
