// CLAUDE:SUMMARY Geometry timeline types, route correlation and output file layout for the extractor.
// Package geometry samples the on-screen layout of a replayed session at a
// fixed cadence and correlates each sample with the route active at that
// instant.
package geometry

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/replaygeo/session"
)

// Element is the bounding box of one rendered element, in CSS pixels
// relative to the viewport.
type Element struct {
	// NodeID is the recorded node ID, 0 for elements the replay added.
	NodeID  int     `json:"nodeId"`
	Tag     string  `json:"tag"`
	ID      string  `json:"id,omitempty"`
	Class   string  `json:"className,omitempty"`
	Text    string  `json:"text,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Visible bool    `json:"visible"`
}

// Snapshot is the geometry at one step of the timeline.
type Snapshot struct {
	Timestamp int64             `json:"timestamp"`
	OffsetMs  int64             `json:"offsetMs"`
	Route     *session.Location `json:"route"`
	Elements  []Element         `json:"elements"`
}

// Output is the geometry file written next to the recording.
type Output struct {
	SessionID         string     `json:"sessionId"`
	OriginalRecording string     `json:"originalRecording"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Marshal encodes o with 2-space indentation.
func (o *Output) Marshal() ([]byte, error) {
	b, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("geometry: marshal output: %w", err)
	}
	return b, nil
}

// WriteFile writes o to path atomically: a reader never sees a partial file.
func (o *Output) WriteFile(path string) error {
	b, err := o.Marshal()
	if err != nil {
		return err
	}
	if err := session.WriteFileAtomic(path, b); err != nil {
		return fmt.Errorf("geometry: write %s: %w", path, err)
	}
	return nil
}

// OutputPath returns the geometry file for a recording:
// dir/<basename minus a trailing .json>.geometry.json.
func OutputPath(input string) string {
	dir, base := filepath.Split(input)
	base = strings.TrimSuffix(base, ".json")
	return filepath.Join(dir, base+".geometry.json")
}

// ResolveRoute returns the location of the route event with the greatest
// timestamp not after t. On equal timestamps the first one seen wins. It
// returns nil when no route event precedes t.
func ResolveRoute(routes []session.Event, t int64) *session.Location {
	var best *session.RoutePayload
	var bestTS int64
	for _, ev := range routes {
		if !ev.HasTimestamp || ev.Timestamp > t {
			continue
		}
		rp, ok := ev.Route()
		if !ok {
			continue
		}
		if best == nil || ev.Timestamp > bestTS {
			best, bestTS = &rp, ev.Timestamp
		}
	}
	if best == nil {
		return nil
	}
	loc := best.Location
	return &loc
}

// Progress returns how much of [first, last] t covers, in percent.
func Progress(t, first, last int64) int {
	if last <= first {
		return 100
	}
	return int(math.Round(float64(t-first) / float64(last-first) * 100))
}

// SnapshotCount is the number of steps covering [first, last] inclusive.
func SnapshotCount(first, last, stepMs int64) int {
	if last < first || stepMs <= 0 {
		return 0
	}
	return int((last-first)/stepMs) + 1
}
