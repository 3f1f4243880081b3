package engine

import (
	"livebridge/internal/obs"
	"livebridge/internal/safety"
	"livebridge/internal/schema"
)

type observedJournal struct {
	metrics *obs.Metrics
	next    safety.Journal
}

// ObservedJournal counts every record by event type before passing it to next.
func ObservedJournal(metrics *obs.Metrics, next safety.Journal) safety.Journal {
	return observedJournal{metrics: metrics, next: next}
}

func (j observedJournal) Record(v any, tsEvent int64) {
	j.metrics.ObserveEvent(eventType(v))
	if j.next != nil {
		j.next.Record(v, tsEvent)
	}
}

func eventType(v any) schema.EventType {
	switch v.(type) {
	case schema.Tick:
		return schema.EventTick
	case schema.Bar:
		return schema.EventBar
	case schema.OrderIntent:
		return schema.EventOrderIntent
	case schema.RiskDecision:
		return schema.EventRiskDecision
	case schema.OrderAck:
		return schema.EventOrderAck
	case schema.Fill:
		return schema.EventFill
	case schema.DriftRecord:
		return schema.EventDrift
	default:
		return schema.EventUnknown
	}
}
