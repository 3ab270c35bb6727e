package schema

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of an event published by the simulator.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventSnapshot
	EventNotification
	EventFill
	EventPositionClosed
	EventNews
	EventVolatility
	EventSubsystemFault
)

var eventTypeNames = enumNames{"unknown", "snapshot", "notification", "fill", "position_closed", "news", "volatility", "subsystem_fault"}

func (t EventType) String() string { return eventTypeNames.name(int(t)) }

// MaxEventType is the highest defined event type.
const MaxEventType = EventSubsystemFault

// EventHeader is the common metadata attached to every event.
type EventHeader struct {
	Type    EventType `json:"type"`
	Version uint16    `json:"version"`
	Seq     uint64    `json:"seq"`
	Tick    uint64    `json:"tick"`
	TsEvent int64     `json:"tsEvent"`
	TsRecv  int64     `json:"tsRecv"`
	TraceID uint64    `json:"traceId"`
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, seq, tick uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Seq:     seq,
		Tick:    tick,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}
