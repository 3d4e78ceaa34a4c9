package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// EventType is the event discriminant. Values match the rrweb wire format
// so traces stay interchangeable with rrweb tooling.
type EventType int

const (
	DomContentLoaded    EventType = 0
	LoadEvent           EventType = 1
	FullSnapshot        EventType = 2
	IncrementalSnapshot EventType = 3
	Meta                EventType = 4
	Custom              EventType = 5
	Plugin              EventType = 6

	// Unknown marks an event whose "type" was missing or not an integer.
	Unknown EventType = -1
)

func (t EventType) String() string {
	switch t {
	case DomContentLoaded:
		return "dom_content_loaded"
	case LoadEvent:
		return "load"
	case FullSnapshot:
		return "full_snapshot"
	case IncrementalSnapshot:
		return "incremental_snapshot"
	case Meta:
		return "meta"
	case Custom:
		return "custom"
	case Plugin:
		return "plugin"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Event is one timestamped record of the capture stream.
//
// Events decoded from JSON keep their original bytes and marshal back
// verbatim, so engine-defined fields this package does not model survive a
// load/save cycle unchanged.
type Event struct {
	Type      EventType
	Timestamp int64 // ms since epoch
	// HasTimestamp is false when the decoded event carried no numeric
	// timestamp. Such events are ignored when computing time ranges.
	HasTimestamp bool
	Data         json.RawMessage

	raw json.RawMessage
}

type wireEvent struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// NewEvent builds an event with data marshalled to JSON.
func NewEvent(typ EventType, ts int64, data any) (Event, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("session: marshal %s data: %w", typ, err)
	}
	return Event{Type: typ, Timestamp: ts, HasTimestamp: true, Data: b}, nil
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return json.Marshal(wireEvent{Type: e.Type, Data: data, Timestamp: e.Timestamp})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: event is not an object", ErrFormat)
	}

	var peek struct {
		Type      json.RawMessage `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(trimmed, &peek); err != nil {
		return fmt.Errorf("%w: event: %v", ErrFormat, err)
	}

	*e = Event{
		Type: Unknown,
		Data: peek.Data,
		raw:  append(json.RawMessage(nil), trimmed...),
	}
	if n, ok := number(peek.Type); ok && n == math.Trunc(n) {
		e.Type = EventType(n)
	}
	if n, ok := number(peek.Timestamp); ok {
		e.Timestamp = int64(n)
		e.HasTimestamp = true
	}
	return nil
}

// Restamp returns a copy of e carrying timestamp ts. Preserved raw bytes
// are patched in place so unmodelled fields still survive.
func (e Event) Restamp(ts int64) Event {
	e.Timestamp = ts
	e.HasTimestamp = true
	if e.raw == nil {
		return e
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.raw, &fields); err != nil {
		e.raw = nil
		return e
	}
	fields["timestamp"] = json.RawMessage(fmt.Sprintf("%d", ts))
	patched, err := json.Marshal(fields)
	if err != nil {
		e.raw = nil
		return e
	}
	e.raw = patched
	return e
}

// DecodeData unmarshals the event's data into v.
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("session: %s event has no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// Source returns the incremental source of an IncrementalSnapshot event.
func (e Event) Source() (IncrementalSource, bool) {
	if e.Type != IncrementalSnapshot {
		return 0, false
	}
	var peek struct {
		Source *IncrementalSource `json:"source"`
	}
	if err := e.DecodeData(&peek); err != nil || peek.Source == nil {
		return 0, false
	}
	return *peek.Source, true
}

func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// TimeRange returns the smallest and largest numeric timestamps of events.
// ok is false when no event carries a numeric timestamp.
func TimeRange(events []Event) (first, last int64, ok bool) {
	for _, ev := range events {
		if !ev.HasTimestamp {
			continue
		}
		if !ok {
			first, last, ok = ev.Timestamp, ev.Timestamp, true
			continue
		}
		first = min(first, ev.Timestamp)
		last = max(last, ev.Timestamp)
	}
	return first, last, ok
}

// IsOrdered reports whether event timestamps are non-decreasing.
// Events without a timestamp are skipped.
func IsOrdered(events []Event) bool {
	var prev int64
	seen := false
	for _, ev := range events {
		if !ev.HasTimestamp {
			continue
		}
		if seen && ev.Timestamp < prev {
			return false
		}
		prev, seen = ev.Timestamp, true
	}
	return true
}
