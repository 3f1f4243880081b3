package schema

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 2

// EventType defines the category of an event stored in the WAL.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventTick
	EventBar
	EventOrderIntent
	EventRiskDecision
	EventOrderAck
	EventFill
	EventDrift
)

var eventTypeNames = [...]string{
	EventUnknown:      "Unknown",
	EventTick:         "Tick",
	EventBar:          "Bar",
	EventOrderIntent:  "OrderIntent",
	EventRiskDecision: "RiskDecision",
	EventOrderAck:     "OrderAck",
	EventFill:         "Fill",
	EventDrift:        "Drift",
}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return "Unknown"
}

// EventHeader is the common metadata attached to every event.
type EventHeader struct {
	Type    EventType
	Version uint16
	Source  uint16
	Flags   uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
	TraceID uint64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, source uint16, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Source:  source,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}
