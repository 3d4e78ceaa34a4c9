// CLAUDE:SUMMARY Rebuilds the page DOM at any offset of a recorded session from its full snapshots and incremental events.
// Package replay reconstructs the DOM of a recorded session at arbitrary
// time offsets. A State is rebuilt from the latest full snapshot at or
// before the offset, then every incremental event up to the offset is
// applied in recorded order. Forward seeks continue from the previous
// State instead of starting over.
package replay

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hazyhaar/replaygeo/session"
)

// ErrNoTimestamps is returned by New when no event carries a numeric
// timestamp.
var ErrNoTimestamps = errors.New("replay: no event has a numeric timestamp")

// Replayer seeks over one event stream. It is not safe for concurrent use.
type Replayer struct {
	events []session.Event
	first  int64
	logger *slog.Logger

	cur  *State
	next int // index of the first event not applied to cur
	base int // index of the full snapshot cur was built from, -1 if none
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithLogger sets the logger used to report skipped events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Replayer) { r.logger = l }
}

// New builds a Replayer over events. Events without a numeric timestamp
// cannot be placed on the timeline and are skipped; the rest are replayed
// in timestamp order, ties in recorded order.
func New(events []session.Event, opts ...Option) (*Replayer, error) {
	r := &Replayer{logger: slog.Default(), base: -1}
	for _, o := range opts {
		o(r)
	}

	for _, ev := range events {
		if ev.HasTimestamp {
			r.events = append(r.events, ev)
		}
	}
	if len(r.events) == 0 {
		return nil, ErrNoTimestamps
	}
	sort.SliceStable(r.events, func(i, j int) bool {
		return r.events[i].Timestamp < r.events[j].Timestamp
	})
	r.first = r.events[0].Timestamp
	return r, nil
}

// First returns the timestamp offsets are relative to.
func (r *Replayer) First() int64 { return r.first }

// Duration returns the span between the first and last event.
func (r *Replayer) Duration() int64 {
	return r.events[len(r.events)-1].Timestamp - r.first
}

// StateAt returns the DOM state at offsetMs after the first event. The
// State belongs to the Replayer and stays valid until the next call.
func (r *Replayer) StateAt(offsetMs int64) (*State, error) {
	if offsetMs < 0 {
		return nil, fmt.Errorf("replay: negative offset %d", offsetMs)
	}
	target := r.first + offsetMs
	end := sort.Search(len(r.events), func(i int) bool {
		return r.events[i].Timestamp > target
	})

	full := -1
	for i := end - 1; i >= 0; i-- {
		if r.events[i].Type == session.FullSnapshot {
			full = i
			break
		}
	}

	if r.cur == nil || r.base != full || r.next > end {
		st, start, err := r.rebuild(full)
		if err != nil {
			return nil, err
		}
		r.cur, r.next, r.base = st, start, full
	}

	for _, ev := range r.events[r.next:end] {
		r.cur.apply(ev)
	}
	r.next = end
	r.cur.Offset = offsetMs
	return r.cur, nil
}

// rebuild creates a State from the full snapshot at index full (a blank
// document when full is -1) and returns the index to continue from.
func (r *Replayer) rebuild(full int) (*State, int, error) {
	st := newState(r.logger)
	if full < 0 {
		return st, 0, nil
	}
	// Meta precedes its full snapshot; carry href and viewport over.
	for i := full - 1; i >= 0; i-- {
		if r.events[i].Type == session.Meta {
			st.apply(r.events[i])
			break
		}
	}
	var data session.FullSnapshotData
	if err := r.events[full].DecodeData(&data); err != nil {
		return nil, 0, fmt.Errorf("replay: full snapshot at %d: %w", r.events[full].Timestamp, err)
	}
	if data.Node == nil {
		return nil, 0, fmt.Errorf("replay: full snapshot at %d has no node", r.events[full].Timestamp)
	}
	st.load(data)
	return st, full + 1, nil
}
