package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/replaygeo/session"
)

// ConsoleOptions bounds console capture.
type ConsoleOptions struct {
	// Levels lists the captured console levels: log, warn, error, debug.
	Levels []string
	// LengthThreshold caps the serialized length of one argument.
	LengthThreshold int
	// StringLengthLimit caps every string value inside an argument.
	StringLengthLimit int
	// NumOfKeysLimit is the largest object serialized field by field.
	NumOfKeysLimit int
	// DepthLimit is the deepest object nesting serialized.
	DepthLimit int
}

// DefaultConsoleOptions captures log, warn and error with the standard
// limits.
func DefaultConsoleOptions() ConsoleOptions {
	return ConsoleOptions{}.withDefaults()
}

func (o ConsoleOptions) withDefaults() ConsoleOptions {
	if len(o.Levels) == 0 {
		o.Levels = []string{"log", "warn", "error"}
	}
	if o.LengthThreshold <= 0 {
		o.LengthThreshold = 10000
	}
	if o.StringLengthLimit <= 0 {
		o.StringLengthLimit = 1000
	}
	if o.NumOfKeysLimit <= 0 {
		o.NumOfKeysLimit = 100
	}
	if o.DepthLimit <= 0 {
		o.DepthLimit = 4
	}
	return o
}

// ConsoleLevel maps a slog level to a console level name.
func ConsoleLevel(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "log"
	}
	return "debug"
}

// ConsoleHandler is a slog.Handler decorator: records at a captured level
// are emitted as console events, then every record is passed on to the
// wrapped handler. The message becomes the first console argument and the
// attributes the second, as one object.
type ConsoleHandler struct {
	next   slog.Handler
	emit   func(session.Event)
	opts   ConsoleOptions
	now    func() time.Time
	attrs  []slog.Attr
	groups []string
}

// NewConsoleHandler wraps next. A nil now uses time.Now.
func NewConsoleHandler(next slog.Handler, emit func(session.Event), opts ConsoleOptions, now func() time.Time) *ConsoleHandler {
	if now == nil {
		now = time.Now
	}
	return &ConsoleHandler{next: next, emit: emit, opts: opts.withDefaults(), now: now}
}

func (h *ConsoleHandler) captures(l slog.Level) bool {
	return slices.Contains(h.opts.Levels, ConsoleLevel(l))
}

func (h *ConsoleHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.captures(l) || h.next.Enabled(ctx, l)
}

func (h *ConsoleHandler) Handle(ctx context.Context, rec slog.Record) error {
	if h.captures(rec.Level) {
		h.capture(rec)
	}
	if h.next.Enabled(ctx, rec.Level) {
		return h.next.Handle(ctx, rec)
	}
	return nil
}

func (h *ConsoleHandler) capture(rec slog.Record) {
	// Capture failures never reach the logging caller.
	defer func() { _ = recover() }()

	fields := make(map[string]any)
	for _, a := range h.attrs {
		putAttr(fields, a)
	}
	target := fields
	for _, g := range h.groups {
		sub, ok := target[g].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			target[g] = sub
		}
		target = sub
	}
	rec.Attrs(func(a slog.Attr) bool {
		putAttr(target, a)
		return true
	})

	args := []string{Stringify(rec.Message, h.opts)}
	if len(fields) > 0 {
		args = append(args, Stringify(fields, h.opts))
	}

	var trace []string
	if rec.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{rec.PC})
		f, _ := frames.Next()
		trace = append(trace, f.Function+"@"+f.File+":"+strconv.Itoa(f.Line))
	}

	ts := rec.Time
	if ts.IsZero() {
		ts = h.now()
	}
	h.emit(session.NewConsoleEvent(ts.UnixMilli(), session.ConsolePayload{
		Level:   ConsoleLevel(rec.Level),
		Trace:   trace,
		Payload: args,
	}))
}

func putAttr(m map[string]any, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		group := v.Group()
		if len(group) == 0 {
			return
		}
		dst := m
		if a.Key != "" {
			sub, ok := m[a.Key].(map[string]any)
			if !ok {
				sub = make(map[string]any)
				m[a.Key] = sub
			}
			dst = sub
		}
		for _, ga := range group {
			putAttr(dst, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	if err, ok := v.Any().(error); ok {
		m[a.Key] = err.Error()
		return
	}
	m[a.Key] = v.Any()
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.next = h.next.WithAttrs(attrs)
	for i := len(h.groups) - 1; i >= 0; i-- {
		attrs = []slog.Attr{{Key: h.groups[i], Value: slog.GroupValue(attrs...)}}
	}
	c.attrs = append(slices.Clip(h.attrs), attrs...)
	return &c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.groups = append(slices.Clip(h.groups), name)
	return &c
}

// Stringify serializes one console argument as JSON within opts' limits.
// Strings longer than StringLengthLimit and arguments longer than
// LengthThreshold are cut and suffixed with "...". Objects deeper than
// DepthLimit or wider than NumOfKeysLimit collapse to "[object Object]".
// Values that cannot be marshalled are rendered with fmt. Stringify never
// panics.
func Stringify(v any, opts ConsoleOptions) (out string) {
	opts = opts.withDefaults()
	defer func() {
		if recover() != nil {
			out = truncate(fallbackString(v), opts.LengthThreshold)
		}
	}()

	tree, err := normalize(v)
	if err != nil {
		tree = fmt.Sprint(v)
	}
	tree = limit(tree, opts, 0)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return truncate(fallbackString(v), opts.LengthThreshold)
	}
	return truncate(string(bytes.TrimRight(buf.Bytes(), "\n")), opts.LengthThreshold)
}

func fallbackString(v any) (s string) {
	defer func() {
		if recover() != nil {
			s = "[unserializable]"
		}
	}()
	return fmt.Sprint(v)
}

// normalize turns v into plain JSON values (maps, slices, strings, numbers).
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case error:
		return x.Error(), nil
	case time.Duration:
		return x.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func limit(v any, opts ConsoleOptions, depth int) any {
	switch x := v.(type) {
	case string:
		return truncate(x, opts.StringLengthLimit)
	case map[string]any:
		if depth >= opts.DepthLimit || len(x) > opts.NumOfKeysLimit {
			return "[object Object]"
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = limit(e, opts, depth+1)
		}
		return out
	case []any:
		if depth >= opts.DepthLimit {
			return "[object Array]"
		}
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = limit(e, opts, depth+1)
		}
		return out
	}
	return v
}

// truncate cuts s to n runes and appends "..." when it was longer.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}
