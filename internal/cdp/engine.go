// CLAUDE:SUMMARY Go-native recording engine: snapshots a Rod page and turns CDP DOM, input, console and navigation events into session events.
// Package cdp implements the recording engine on top of the Chrome DevTools
// Protocol. It attaches to a Rod page and produces a Meta event and a full
// snapshot, then debounced mutation events, input and scroll events from an
// injected page script, console events and navigation callbacks. Page
// network activity is logged through a recorder.NetLogger.
//
// CDP node IDs are used as session node IDs.
package cdp

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/replaygeo/idgen"
	"github.com/hazyhaar/replaygeo/recorder"
	"github.com/hazyhaar/replaygeo/session"
)

//go:embed recorder.js
var recorderJS string

const bindingName = "__replaygeo_binding"

// Config configures an Engine.
type Config struct {
	Page *rod.Page

	// DebounceWindow batches DOM changes into one mutation event. Default: 100ms.
	DebounceWindow time.Duration
	// DebounceMax flushes a batch early at this many changes. Default: 1000.
	DebounceMax int

	// Console enables page console capture. Nil disables it.
	Console *recorder.ConsoleOptions

	// Net receives page network log entries. Nil disables network logging.
	Net *recorder.NetLogger
	// AllRequests logs every request instead of only fetch and XHR.
	AllRequests bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Engine records one page. It implements recorder.Engine.
type Engine struct {
	cfg Config
}

// New creates an Engine for cfg.Page.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{cfg: cfg}
}

var _ recorder.Engine = (*Engine)(nil)

// Start snapshots the page and starts listening. The returned stop func
// flushes pending mutations and detaches every listener.
func (e *Engine) Start(ctx context.Context, emit func(session.Event), navigate func(string)) (func() error, error) {
	if e.cfg.Page == nil {
		return nil, fmt.Errorf("cdp: no page")
	}
	r := newRun(ctx, e.cfg, emit, navigate)
	if err := r.start(); err != nil {
		r.cancel()
		return nil, err
	}
	return r.stop, nil
}

// item is one unit of work for the run loop, in CDP arrival order.
type item struct {
	change *change
	event  *session.Event
	nav    string
}

// run is the state of one Start call.
type run struct {
	cfg      Config
	page     *rod.Page
	logger   *slog.Logger
	emit     func(session.Event)
	navigate func(string)

	ctx    context.Context
	cancel context.CancelFunc

	nodes      *nodeMap
	deb        *debouncer
	ch         chan item
	docResetCh chan struct{}
	stopCh     chan struct{}
	loopDone   chan struct{}
	listenDone chan struct{}

	// requests is touched only by the listener goroutine.
	requests map[proto.NetworkRequestID]pendingRequest
	newReqID idgen.Generator

	removeScript func() error
	stopOnce     sync.Once
	stopErr      error
}

func newRun(ctx context.Context, cfg Config, emit func(session.Event), navigate func(string)) *run {
	ctx, cancel := context.WithCancel(ctx)
	r := &run{
		cfg:        cfg,
		page:       cfg.Page,
		logger:     cfg.Logger,
		emit:       emit,
		navigate:   navigate,
		ctx:        ctx,
		cancel:     cancel,
		nodes:      newNodeMap(),
		ch:         make(chan item, 4096),
		docResetCh: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		loopDone:   make(chan struct{}),
		listenDone: make(chan struct{}),
		requests:   make(map[proto.NetworkRequestID]pendingRequest),
		newReqID:   idgen.RequestID,
	}
	r.deb = newDebouncer(debounceConfig{Window: cfg.DebounceWindow, MaxBuffer: cfg.DebounceMax}, r.onFlush)
	return r
}

// start enables the CDP domains, injects the page script, emits the
// initial snapshot and starts the listener and loop goroutines.
func (r *run) start() error {
	p := r.page.Context(r.ctx)

	if err := (proto.DOMEnable{}).Call(p); err != nil {
		return fmt.Errorf("cdp: DOM.enable: %w", err)
	}
	if err := (proto.PageEnable{}).Call(p); err != nil {
		return fmt.Errorf("cdp: Page.enable: %w", err)
	}
	if err := (proto.RuntimeEnable{}).Call(p); err != nil {
		return fmt.Errorf("cdp: Runtime.enable: %w", err)
	}
	if r.cfg.Net != nil {
		if err := (proto.NetworkEnable{}).Call(p); err != nil {
			r.logger.Warn("cdp: Network.enable failed, page network not logged", "error", err)
		}
	}

	if err := r.injectScript(); err != nil {
		r.logger.Warn("cdp: page script not injected, input and scroll not recorded", "error", err)
	}

	// Subscribe before the snapshot so no change falls between them.
	go r.listen()

	if err := r.snapshot(); err != nil {
		return err
	}

	go r.loop()
	return nil
}

func (r *run) injectScript() error {
	p := r.page.Context(r.ctx)
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p); err != nil {
		return fmt.Errorf("add binding: %w", err)
	}
	remove, err := p.EvalOnNewDocument(recorderJS)
	if err != nil {
		return fmt.Errorf("eval on new document: %w", err)
	}
	r.removeScript = remove
	if _, err := (proto.RuntimeEvaluate{Expression: recorderJS}).Call(p); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// snapshot rebuilds the node map and emits Meta + FullSnapshot.
func (r *run) snapshot() error {
	p := r.page.Context(r.ctx)

	depth := -1
	doc, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(p)
	if err != nil {
		return fmt.Errorf("cdp: DOM.getDocument: %w", err)
	}
	r.nodes.buildFromDocument(doc.Root)

	var view struct {
		Href   string  `json:"href"`
		Width  int     `json:"width"`
		Height int     `json:"height"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
	}
	res, err := p.Eval(`() => ({href: location.href, width: innerWidth, height: innerHeight, x: scrollX, y: scrollY})`)
	if err != nil {
		return fmt.Errorf("cdp: read viewport: %w", err)
	}
	if err := res.Value.Unmarshal(&view); err != nil {
		return fmt.Errorf("cdp: decode viewport: %w", err)
	}

	ts := r.cfg.Now().UnixMilli()
	meta, err := session.NewEvent(session.Meta, ts, session.MetaData{Href: view.Href, Width: view.Width, Height: view.Height})
	if err != nil {
		return err
	}
	full, err := session.NewEvent(session.FullSnapshot, ts, session.FullSnapshotData{
		Node:          serialize(doc.Root, ""),
		InitialOffset: session.Offset{Top: view.Y, Left: view.X},
	})
	if err != nil {
		return err
	}
	r.emit(meta)
	r.emit(full)

	r.logger.Info("cdp: full snapshot", "href", view.Href, "nodes", r.nodes.size())
	return nil
}

func (r *run) push(it item) {
	select {
	case r.ch <- it:
	case <-r.ctx.Done():
	}
}

// loop owns the debouncer: DOM changes are batched, every other event
// first flushes the pending batch so the stream keeps CDP order.
func (r *run) loop() {
	defer close(r.loopDone)
	for {
		select {
		case <-r.stopCh:
			r.drain()
			r.deb.flush()
			return

		case <-r.ctx.Done():
			r.deb.flush()
			return

		case it := <-r.ch:
			r.handle(it)

		case <-r.deb.timerC():
			r.deb.flush()

		case <-r.docResetCh:
			r.docReset()
		}
	}
}

func (r *run) drain() {
	for {
		select {
		case it := <-r.ch:
			r.handle(it)
		default:
			return
		}
	}
}

func (r *run) handle(it item) {
	switch {
	case it.change != nil:
		r.deb.add(*it.change)
	case it.event != nil:
		r.deb.flush()
		r.emit(*it.event)
	case it.nav != "":
		r.deb.flush()
		if r.navigate != nil {
			r.navigate(it.nav)
		}
	}
}

func (r *run) onFlush(m session.MutationData) {
	ev, err := session.NewEvent(session.IncrementalSnapshot, r.cfg.Now().UnixMilli(), m)
	if err != nil {
		r.logger.Error("cdp: encode mutation", "error", err)
		return
	}
	r.emit(ev)
}

// docReset handles DOM.documentUpdated: every node ID is stale, so the
// pending batch is flushed and a new full snapshot taken.
func (r *run) docReset() {
	r.deb.flush()
	// Changes queued for the old document reference dead IDs.
	for {
		select {
		case it := <-r.ch:
			if it.change == nil {
				r.handle(it)
			}
			continue
		default:
		}
		break
	}
	if err := r.snapshot(); err != nil {
		r.logger.Error("cdp: snapshot after document update", "error", err)
	}
}

// stop flushes and detaches. Safe to call more than once.
func (r *run) stop() error {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.loopDone
		r.cancel()
		<-r.listenDone
		if r.removeScript != nil {
			if err := r.removeScript(); err != nil {
				r.logger.Debug("cdp: remove page script", "error", err)
			}
		}
	})
	return r.stopErr
}
