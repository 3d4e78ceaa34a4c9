package session

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// RouteTag is the custom-event tag of logical navigation markers.
const RouteTag = "route"

// Location is the logical route of the host application.
type Location struct {
	Pathname string `json:"pathname"`
	Search   string `json:"search"`
	Hash     string `json:"hash"`
}

// ParseLocation splits a URL into pathname, search ("?..." or "") and hash
// ("#..." or ""), the way a browser location object reports them.
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("session: parse location: %w", err)
	}
	loc := Location{Pathname: u.EscapedPath()}
	if loc.Pathname == "" {
		loc.Pathname = "/"
	}
	if u.RawQuery != "" {
		loc.Search = "?" + u.RawQuery
	}
	if f := u.EscapedFragment(); f != "" {
		loc.Hash = "#" + f
	}
	return loc, nil
}

// RoutePayload is the payload of a route custom event.
type RoutePayload struct {
	Location
	At        int64  `json:"at"`
	SessionID string `json:"sessionId"`
}

// CustomData is the data of a Custom event.
type CustomData struct {
	Tag     string          `json:"tag"`
	Payload json.RawMessage `json:"payload"`
}

// NewCustomEvent builds a custom event carrying tag and payload.
func NewCustomEvent(ts int64, tag string, payload any) (Event, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("session: marshal %q payload: %w", tag, err)
	}
	return NewEvent(Custom, ts, CustomData{Tag: tag, Payload: p})
}

// NewRouteEvent builds the route marker for loc.
func NewRouteEvent(ts int64, loc Location, sessionID string) Event {
	// RoutePayload only holds strings and integers; marshalling cannot fail.
	ev, _ := NewCustomEvent(ts, RouteTag, RoutePayload{Location: loc, At: ts, SessionID: sessionID})
	return ev
}

// Custom decodes the data of a Custom event.
func (e Event) Custom() (CustomData, bool) {
	if e.Type != Custom {
		return CustomData{}, false
	}
	var cd CustomData
	if err := e.DecodeData(&cd); err != nil {
		return CustomData{}, false
	}
	return cd, true
}

// IsRoute reports whether e is a route custom event.
func (e Event) IsRoute() bool {
	cd, ok := e.Custom()
	return ok && cd.Tag == RouteTag
}

// Route decodes the payload of a route custom event. A route event whose
// payload does not decode yields a zero payload and ok == true.
func (e Event) Route() (RoutePayload, bool) {
	cd, ok := e.Custom()
	if !ok || cd.Tag != RouteTag {
		return RoutePayload{}, false
	}
	var rp RoutePayload
	if len(cd.Payload) > 0 {
		_ = json.Unmarshal(cd.Payload, &rp)
	}
	return rp, true
}

// SplitRoutes partitions events into route markers and everything else,
// preserving order within each group.
func SplitRoutes(events []Event) (routes, others []Event) {
	for _, ev := range events {
		if ev.IsRoute() {
			routes = append(routes, ev)
		} else {
			others = append(others, ev)
		}
	}
	return routes, others
}
