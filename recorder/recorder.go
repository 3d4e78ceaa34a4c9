// CLAUDE:SUMMARY Capture controller owning the live session: one-shot start, event append, route markers, exact teardown.
// Package recorder captures a live session: DOM events produced by an
// Engine, console output, logical-route markers and outbound network
// activity.
//
// The Recorder is the single capture context. It is constructed once, holds
// the session buffer, and is passed by reference to whatever needs it (the
// engine's emit callback, the download handler, the teardown path).
//
//	rec := recorder.New(recorder.WithEngine(eng), recorder.WithHTTPClient(client))
//	rec.Start(ctx, session.Location{Pathname: "/"})
//	defer rec.Stop()
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/replaygeo/idgen"
	"github.com/hazyhaar/replaygeo/recorder/internal/sink"
	"github.com/hazyhaar/replaygeo/session"
)

// Engine produces DOM snapshot, mutation and input events for a page.
// Start must call emit for every produced event and navigate with the new
// URL whenever the page's logical location changes. The returned stop func
// releases everything the engine holds; it may emit final events before
// returning.
type Engine interface {
	Start(ctx context.Context, emit func(session.Event), navigate func(url string)) (stop func() error, err error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, emit func(session.Event), navigate func(url string)) (func() error, error)

func (f EngineFunc) Start(ctx context.Context, emit func(session.Event), navigate func(url string)) (func() error, error) {
	return f(ctx, emit, navigate)
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopping
	stateStopped
)

// Recorder is the capture controller. All methods are safe for concurrent
// use.
type Recorder struct {
	logger     *slog.Logger
	engine     Engine
	client     *http.Client
	newID      idgen.Generator
	now        func() time.Time
	console    *ConsoleOptions
	mirror     sink.Sink
	mirrorSize int
	onDownload func()

	mu         sync.Mutex
	state      state
	sess       session.Session
	loc        session.Location
	lastTS     int64
	restore    func()
	stopEngine func() error
	mirrorQ    chan session.Event
	mirrorDone chan struct{}

	captured *slog.Logger
	dropped  atomic.Int64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithEngine sets the DOM recording engine. Without one the recorder only
// captures routes, console output and custom events.
func WithEngine(e Engine) Option {
	return func(r *Recorder) { r.engine = e }
}

// WithLogger sets the logger used for the recorder's own diagnostics and
// for network log entries.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithHTTPClient makes Start wrap c's Transport with the network logger and
// Stop restore it.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recorder) { r.client = c }
}

// WithIDGenerator overrides the session identifier source.
func WithIDGenerator(g idgen.Generator) Option {
	return func(r *Recorder) { r.newID = g }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithConsole enables console capture with the given limits. Records logged
// through Logger() at a captured level become console events.
func WithConsole(opts ConsoleOptions) Option {
	return func(r *Recorder) {
		o := opts.withDefaults()
		r.console = &o
	}
}

// WithMirror forwards every appended event to s through a bounded queue of
// size events. Events are dropped, never blocked on, when the queue is full.
func WithMirror(s sink.Sink, size int) Option {
	return func(r *Recorder) {
		r.mirror = s
		r.mirrorSize = size
	}
}

// WithDownloadHook sets a func called every time the session is
// downloaded through Handler.
func WithDownloadHook(fn func()) Option {
	return func(r *Recorder) { r.onDownload = fn }
}

// New creates a Recorder. Nothing is captured until Start.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		logger:     slog.Default(),
		newID:      idgen.Session(),
		now:        time.Now,
		mirrorSize: 1024,
	}
	for _, o := range opts {
		o(r)
	}
	if r.mirrorSize <= 0 {
		r.mirrorSize = 1024
	}

	r.captured = r.logger
	if r.console != nil {
		r.captured = slog.New(NewConsoleHandler(r.logger.Handler(), r.Emit, *r.console, r.now))
	}
	return r
}

// Logger returns the logger whose records are captured as console events
// when console capture is enabled. It is r's own logger otherwise.
func (r *Recorder) Logger() *slog.Logger { return r.captured }

// NetLogger returns a network logger writing through Logger(), for engines
// that observe page traffic outside the wrapped HTTP client.
func (r *Recorder) NetLogger() *NetLogger { return NewNetLogger(r.captured, r.now) }

// Start begins the capture. Only the first call has any effect; later calls,
// including calls after Stop, return nil without emitting anything.
//
// A failing engine does not fail Start: the error is logged and the session
// keeps recording routes, console output and network activity.
func (r *Recorder) Start(ctx context.Context, initial session.Location) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("recorder: start: %w", err)
	}

	r.mu.Lock()
	if r.state != stateIdle {
		r.mu.Unlock()
		return nil
	}
	startedAt := r.now().UnixMilli()
	r.sess = session.Session{
		SessionID: r.newID(),
		StartedAt: startedAt,
		Events:    []session.Event{},
	}
	r.loc = initial
	r.lastTS = startedAt
	r.state = stateRunning
	if r.mirror != nil {
		r.mirrorQ = make(chan session.Event, r.mirrorSize)
		r.mirrorDone = make(chan struct{})
		go r.runMirror(r.sess.SessionID, r.mirrorQ, r.mirrorDone)
	}
	id := r.sess.SessionID
	r.mu.Unlock()

	// Stop may run while the transport and engine are being set up. Whatever
	// it could not see is released here.
	if r.client != nil {
		restore := Install(r.client, r.NetLogger())
		if !r.keep(func() { r.restore = restore }) {
			restore()
		}
	}

	if r.engine != nil {
		stop, err := r.startEngine(ctx)
		switch {
		case err != nil:
			r.logger.Warn("recorder: engine start failed, recording degraded", "session_id", id, "error", err)
		case stop != nil && !r.keep(func() { r.stopEngine = stop }):
			if err := stop(); err != nil {
				r.logger.Warn("recorder: stop engine", "session_id", id, "error", err)
			}
		}
	}

	r.Emit(session.NewRouteEvent(r.now().UnixMilli(), initial, id))
	r.logger.Info("recorder: started", "session_id", id, "pathname", initial.Pathname)
	return nil
}

// keep runs set under the lock if the recorder is still running and
// reports whether it did.
func (r *Recorder) keep(set func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRunning {
		return false
	}
	set()
	return true
}

func (r *Recorder) startEngine(ctx context.Context) (stop func() error, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine panic: %v", p)
		}
	}()
	return r.engine.Start(ctx, r.Emit, func(url string) { r.NavigateURL(url) })
}

// Navigate records a route change. It emits a route event only while
// recording and only when pathname, search or hash differ from the current
// location, so the location reported at Start is never emitted twice.
func (r *Recorder) Navigate(loc session.Location) bool {
	r.mu.Lock()
	if r.state != stateRunning || loc == r.loc {
		r.mu.Unlock()
		return false
	}
	r.loc = loc
	id := r.sess.SessionID
	r.mu.Unlock()

	r.Emit(session.NewRouteEvent(r.now().UnixMilli(), loc, id))
	return true
}

// NavigateURL is Navigate for a full URL.
func (r *Recorder) NavigateURL(raw string) bool {
	loc, err := session.ParseLocation(raw)
	if err != nil {
		r.logger.Debug("recorder: ignoring navigation", "url", raw, "error", err)
		return false
	}
	return r.Navigate(loc)
}

// AddCustomEvent appends an application-defined marker.
func (r *Recorder) AddCustomEvent(tag string, payload any) error {
	if !r.Recording() {
		return ErrNotRecording
	}
	ev, err := session.NewCustomEvent(r.now().UnixMilli(), tag, payload)
	if err != nil {
		return err
	}
	r.Emit(ev)
	return nil
}

// ErrNotRecording is returned by operations that need a running capture.
var ErrNotRecording = errors.New("recorder: not recording")

// Emit appends ev to the session. Events without a timestamp are stamped
// with the current time, and an event stamped before the last appended one
// is clamped to it so the stream stays non-decreasing. Emit never panics.
func (r *Recorder) Emit(ev session.Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("recorder: emit panic recovered", "panic", p, "stack", string(debug.Stack()))
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRunning && r.state != stateStopping {
		return
	}
	switch {
	case !ev.HasTimestamp:
		ev = ev.Restamp(max(r.now().UnixMilli(), r.lastTS))
	case ev.Timestamp < r.lastTS:
		ev = ev.Restamp(r.lastTS)
	}
	r.sess.Events = append(r.sess.Events, ev)
	r.lastTS = ev.Timestamp

	if r.mirrorQ != nil {
		select {
		case r.mirrorQ <- ev:
		default:
			if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
				r.logger.Warn("recorder: mirror queue full, dropping events", "dropped", n)
			}
		}
	}
}

// Recording reports whether Start has run and Stop has not.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRunning
}

// Location returns the last recorded logical location.
func (r *Recorder) Location() session.Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loc
}

// Session returns a snapshot of the captured session, or nil before Start.
// The returned value shares no mutable state with the recorder.
func (r *Recorder) Session() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateIdle {
		return nil
	}
	s := r.sess
	s.Events = append([]session.Event(nil), r.sess.Events...)
	return &s
}

// Stop restores the HTTP client's original Transport, stops the engine and
// drains the mirror. It is safe to call more than once.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.state != stateRunning {
		r.mu.Unlock()
		return nil
	}
	r.state = stateStopping
	restore, stopEngine := r.restore, r.stopEngine
	r.restore, r.stopEngine = nil, nil
	r.mu.Unlock()

	if restore != nil {
		restore()
	}

	var errs []error
	if stopEngine != nil {
		if err := stopEngine(); err != nil {
			errs = append(errs, fmt.Errorf("recorder: stop engine: %w", err))
		}
	}

	r.mu.Lock()
	r.state = stateStopped
	q, done := r.mirrorQ, r.mirrorDone
	r.mirrorQ = nil
	if q != nil {
		close(q)
	}
	id, n := r.sess.SessionID, len(r.sess.Events)
	r.mu.Unlock()

	if q != nil {
		<-done
		if err := r.mirror.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recorder: close mirror: %w", err))
		}
	}

	r.logger.Info("recorder: stopped", "session_id", id, "events", n, "mirror_dropped", r.dropped.Load())
	return errors.Join(errs...)
}

const mirrorBatch = 64

// runMirror drains q into the mirror sink in batches until q is closed.
func (r *Recorder) runMirror(id string, q <-chan session.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range q {
		batch := sink.Batch{SessionID: id, Events: []session.Event{ev}}
	fill:
		for len(batch.Events) < mirrorBatch {
			select {
			case next, ok := <-q:
				if !ok {
					break fill
				}
				batch.Events = append(batch.Events, next)
			default:
				break fill
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := r.mirror.Send(ctx, batch); err != nil {
			r.logger.Warn("recorder: mirror send failed", "session_id", id, "events", len(batch.Events), "error", err)
		}
		cancel()
	}
}
