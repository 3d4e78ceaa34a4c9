package cdp

import (
	"time"

	"github.com/hazyhaar/replaygeo/session"
)

// changeKind tags a raw DOM change.
type changeKind int

const (
	changeAdd changeKind = iota
	changeRemove
	changeText
	changeAttr
)

// change is one CDP DOM event, already translated to session shapes.
type change struct {
	kind   changeKind
	add    session.AddedNode
	remove session.RemovedNode
	id     int
	text   string
	name   string
	value  *string // nil removes the attribute
}

// debounceConfig controls the batching behaviour.
type debounceConfig struct {
	// Window is the debounce time. Default: 100ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many changes accumulate. Default: 1000.
	MaxBuffer int
}

func (dc *debounceConfig) defaults() {
	if dc.Window <= 0 {
		dc.Window = 100 * time.Millisecond
	}
	if dc.MaxBuffer <= 0 {
		dc.MaxBuffer = 1000
	}
}

// debouncer collects changes and emits one mutation payload when the
// window expires or the buffer fills. It is owned by a single goroutine.
type debouncer struct {
	cfg     debounceConfig
	changes []change
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func(session.MutationData)
}

func newDebouncer(cfg debounceConfig, flushFn func(session.MutationData)) *debouncer {
	cfg.defaults()
	return &debouncer{
		cfg:     cfg,
		changes: make([]change, 0, cfg.MaxBuffer),
		flushFn: flushFn,
	}
}

// add pushes a change into the buffer. Returns true if an immediate flush
// was triggered (buffer full).
func (d *debouncer) add(c change) bool {
	d.changes = append(d.changes, c)

	if len(d.changes) >= d.cfg.MaxBuffer {
		d.flush()
		return true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

// timerC returns the channel that fires when the debounce window expires.
func (d *debouncer) timerC() <-chan time.Time {
	return d.timerCh
}

// flush compresses and emits the buffered changes, then resets.
func (d *debouncer) flush() {
	if len(d.changes) == 0 {
		return
	}

	if m := compress(d.changes); !m.Empty() {
		d.flushFn(m)
	}

	d.changes = d.changes[:0]
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
}

// compress folds a run of changes into one mutation payload, which replays
// removes, then adds, then texts, then attributes:
//   - a node added then removed within the run is dropped from its add
//     (or from the added subtree holding it) and the remove is omitted
//   - the last text per node wins
//   - the last value per (node, attribute) wins
func compress(changes []change) session.MutationData {
	m := session.MutationData{
		Source:     session.SourceMutation,
		Texts:      []session.TextMutation{},
		Attributes: []session.AttributeMutation{},
		Removes:    []session.RemovedNode{},
		Adds:       []session.AddedNode{},
	}

	textAt := make(map[int]int)
	attrAt := make(map[int]int)

	for _, c := range changes {
		switch c.kind {
		case changeAdd:
			m.Adds = append(m.Adds, c.add)

		case changeRemove:
			if dropAdded(&m, c.remove.ID) {
				continue
			}
			m.Removes = append(m.Removes, c.remove)

		case changeText:
			v := c.text
			if i, ok := textAt[c.id]; ok {
				m.Texts[i].Value = &v
				continue
			}
			textAt[c.id] = len(m.Texts)
			m.Texts = append(m.Texts, session.TextMutation{ID: c.id, Value: &v})

		case changeAttr:
			var v any
			if c.value != nil {
				v = *c.value
			}
			if i, ok := attrAt[c.id]; ok {
				m.Attributes[i].Attributes[c.name] = v
				continue
			}
			attrAt[c.id] = len(m.Attributes)
			m.Attributes = append(m.Attributes, session.AttributeMutation{
				ID:         c.id,
				Attributes: map[string]any{c.name: v},
			})
		}
	}
	return m
}

// dropAdded removes id from the adds of m, either as an added root or
// inside an added subtree, and reports whether it was found.
func dropAdded(m *session.MutationData, id int) bool {
	for i := len(m.Adds) - 1; i >= 0; i-- {
		a := m.Adds[i]
		if a.Node == nil || !contains(a.Node, id) {
			continue
		}
		if a.Node.ID == id {
			m.Adds = append(m.Adds[:i], m.Adds[i+1:]...)
		} else {
			prune(a.Node, id)
		}
		return true
	}
	return false
}
