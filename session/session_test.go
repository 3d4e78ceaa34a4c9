package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestParse_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantID  string
		wantLen int
		wantErr error
	}{
		{"object", `{"sessionId":"s1","startedAt":10,"events":[{"type":4,"timestamp":10,"data":{}}]}`, "s1", 1, nil},
		{"object without id", `{"events":[{"type":4,"timestamp":10,"data":{}}]}`, UnknownSessionID, 1, nil},
		{"bare array", `[{"type":4,"timestamp":10,"data":{}},{"type":5,"timestamp":11,"data":{}}]`, UnknownSessionID, 2, nil},
		{"malformed", `{"events": [`, "", 0, ErrParse},
		{"trailing garbage", `[] []`, "", 0, ErrParse},
		{"object without events", `{"sessionId":"s1"}`, "", 0, ErrFormat},
		{"events not array", `{"events":{"a":1}}`, "", 0, ErrFormat},
		{"scalar", `42`, "", 0, ErrFormat},
		{"non-object event", `[1,2]`, "", 0, ErrFormat},
		{"empty array", `[]`, "", 0, ErrNoEvents},
		{"empty events", `{"sessionId":"s1","events":[]}`, "", 0, ErrNoEvents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err: got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if s.SessionID != tt.wantID {
				t.Errorf("SessionID: got %q, want %q", s.SessionID, tt.wantID)
			}
			if len(s.Events) != tt.wantLen {
				t.Errorf("Events: got %d, want %d", len(s.Events), tt.wantLen)
			}
		})
	}
}

func TestEvent_PreservesUnknownFields(t *testing.T) {
	in := `{"type":3,"timestamp":1500,"data":{"source":0,"adds":[],"removes":[],"texts":[],"attributes":[],"engineField":{"x":[1,2]}},"delay":7}`
	var ev Event
	if err := json.Unmarshal([]byte(in), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != IncrementalSnapshot || ev.Timestamp != 1500 || !ev.HasTimestamp {
		t.Fatalf("decoded: %+v", ev)
	}
	out, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != in {
		t.Fatalf("round trip changed bytes:\n got %s\nwant %s", out, in)
	}
	if src, ok := ev.Source(); !ok || src != SourceMutation {
		t.Fatalf("Source: got %v %v", src, ok)
	}
}

func TestEvent_NonNumericTimestamp(t *testing.T) {
	var events []Event
	in := `[{"type":4,"timestamp":"soon","data":{}},{"type":4,"timestamp":null,"data":{}},{"type":4,"timestamp":300,"data":{}},{"type":4,"timestamp":100,"data":{}}]`
	if err := json.Unmarshal([]byte(in), &events); err != nil {
		t.Fatal(err)
	}
	if events[0].HasTimestamp || events[1].HasTimestamp {
		t.Fatal("non-numeric timestamps should be flagged")
	}
	first, last, ok := TimeRange(events)
	if !ok || first != 100 || last != 300 {
		t.Fatalf("TimeRange: got %d %d %v", first, last, ok)
	}
	if IsOrdered(events) {
		t.Fatal("IsOrdered: 300 then 100 is not ordered")
	}
}

func TestEvent_Restamp(t *testing.T) {
	var ev Event
	if err := json.Unmarshal([]byte(`{"type":6,"timestamp":5,"data":{},"extra":true}`), &ev); err != nil {
		t.Fatal(err)
	}
	ev = ev.Restamp(9)
	out, _ := json.Marshal(ev)
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if back["timestamp"] != float64(9) || back["extra"] != true {
		t.Fatalf("restamp: %s", out)
	}
}

func TestRouteEvent(t *testing.T) {
	loc := Location{Pathname: "/reports", Search: "?q=1", Hash: "#top"}
	ev := NewRouteEvent(1234, loc, "sess-1")
	if !ev.IsRoute() {
		t.Fatal("IsRoute: false")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	rp, ok := back.Route()
	if !ok {
		t.Fatal("Route: not decoded")
	}
	if rp.Location != loc || rp.At != 1234 || rp.SessionID != "sess-1" {
		t.Fatalf("Route payload: %+v", rp)
	}
	if !strings.Contains(string(data), `"tag":"route"`) || !strings.Contains(string(data), `"type":5`) {
		t.Fatalf("wire shape: %s", data)
	}
}

func TestSplitRoutes(t *testing.T) {
	other, _ := NewCustomEvent(2, "click", map[string]int{"x": 1})
	events := []Event{
		NewRouteEvent(1, Location{Pathname: "/a"}, "s"),
		other,
		NewConsoleEvent(3, ConsolePayload{Level: "log", Payload: []string{`"hi"`}}),
		NewRouteEvent(4, Location{Pathname: "/b"}, "s"),
	}
	routes, others := SplitRoutes(events)
	if len(routes) != 2 || len(others) != 2 {
		t.Fatalf("split: %d routes, %d others", len(routes), len(others))
	}
	if rp, _ := routes[1].Route(); rp.Pathname != "/b" {
		t.Fatalf("order: got %q", rp.Pathname)
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in   string
		want Location
	}{
		{"https://app.test/reports/42?tab=1#chart", Location{"/reports/42", "?tab=1", "#chart"}},
		{"https://app.test", Location{"/", "", ""}},
		{"http://localhost:5173/login", Location{"/login", "", ""}},
	}
	for _, tt := range tests {
		got, err := ParseLocation(tt.in)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestConsoleEvent(t *testing.T) {
	ev := NewConsoleEvent(10, ConsolePayload{Level: "warn", Payload: []string{`"x"`}})
	cp, ok := ev.Console()
	if !ok || cp.Level != "warn" || len(cp.Payload) != 1 {
		t.Fatalf("Console: %+v %v", cp, ok)
	}
	if _, ok := NewRouteEvent(1, Location{}, "s").Console(); ok {
		t.Fatal("route event decoded as console")
	}
}

func TestWriteFileAndLoad(t *testing.T) {
	dir := t.TempDir()
	s := &Session{
		SessionID: "abc",
		StartedAt: 1000,
		Events: []Event{
			NewRouteEvent(1000, Location{Pathname: "/"}, "abc"),
			NewConsoleEvent(1200, ConsolePayload{Level: "log"}),
		},
	}
	path, err := s.WriteFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "session-abc.json" {
		t.Fatalf("file name: %s", path)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "abc" || got.StartedAt != 1000 || len(got.Events) != 2 {
		t.Fatalf("loaded: %+v", got)
	}
	if !sort.SliceIsSorted(got.Events, func(i, j int) bool { return got.Events[i].Timestamp < got.Events[j].Timestamp }) {
		t.Fatal("events not in timestamp order")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestEventType_String(t *testing.T) {
	tests := map[EventType]string{
		DomContentLoaded:    "dom_content_loaded",
		LoadEvent:           "load",
		FullSnapshot:        "full_snapshot",
		IncrementalSnapshot: "incremental_snapshot",
		Meta:                "meta",
		Custom:              "custom",
		Plugin:              "plugin",
		EventType(9):        "type(9)",
	}
	for typ, want := range tests {
		if got := typ.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(typ), got, want)
		}
	}

	var ev Event
	if err := json.Unmarshal([]byte(`{"type":1,"timestamp":5,"data":{}}`), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != LoadEvent {
		t.Errorf("decoded type: got %v, want %v", ev.Type, LoadEvent)
	}
}
