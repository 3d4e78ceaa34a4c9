// CLAUDE:SUMMARY Rod-driven replay harness: serves the harness page, renders replayed states into a sandboxed iframe, reads element geometry.
// Package harness drives a headless Chrome page that displays replayed
// session states and measures them. The DOM state at each offset is built
// in Go by package replay; the page only renders it into a sandboxed
// iframe and reports bounding boxes.
package harness

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/replaygeo/geometry"
	"github.com/hazyhaar/replaygeo/internal/browser"
	"github.com/hazyhaar/replaygeo/replay"
	"github.com/hazyhaar/replaygeo/session"
)

//go:embed harness.html
var harnessHTML []byte

//go:embed harness.js
var harnessJS []byte

// Config configures a Harness.
type Config struct {
	Manager *browser.Manager

	// Width and Height size the viewport. Default: 1280x720.
	Width, Height int
	// ReadyTimeout bounds the wait for the harness page. Default: 10s.
	ReadyTimeout time.Duration
	// SeekTimeout bounds one render. Default: 30s.
	SeekTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Width <= 0 {
		c.Width = 1280
	}
	if c.Height <= 0 {
		c.Height = 720
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.SeekTimeout <= 0 {
		c.SeekTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Harness implements geometry.Harness on a Rod page.
type Harness struct {
	cfg  Config
	page *browser.IsolatedPage
	srv  *http.Server
	rep  *replay.Replayer
}

var _ geometry.Harness = (*Harness)(nil)

// Open starts the browser if needed, serves the harness page on a loopback
// port, loads it in an isolated page and waits until it is ready.
func Open(ctx context.Context, cfg Config) (*Harness, error) {
	cfg.defaults()
	if cfg.Manager == nil {
		return nil, errors.New("harness: no browser manager")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("harness: listen: %w", err)
	}
	h := &Harness{cfg: cfg, srv: &http.Server{Handler: Router(), ReadHeaderTimeout: 5 * time.Second}}
	go func() {
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cfg.Logger.Error("harness: server", "error", err)
		}
	}()

	if _, err := cfg.Manager.Start(ctx); err != nil {
		h.Close()
		return nil, fmt.Errorf("harness: browser launch: %w", err)
	}
	h.page, err = browser.OpenIsolated(cfg.Manager, cfg.Width, cfg.Height)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("harness: %w", err)
	}

	url := "http://" + ln.Addr().String() + "/"
	if err := h.page.Page.Context(ctx).Navigate(url); err != nil {
		h.Close()
		return nil, fmt.Errorf("harness: load %s: %w", url, err)
	}
	if err := h.waitReady(ctx); err != nil {
		h.Close()
		return nil, err
	}
	cfg.Logger.Info("harness: ready", "url", url, "viewport", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
	return h, nil
}

// Router serves the harness page and its script.
func Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(harnessHTML)
	})
	r.Get("/harness.js", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(harnessJS)
	})
	return r
}

const readyJS = `() => typeof window.initReplay === "function" &&
	typeof window.seekTo === "function" &&
	typeof window.getGeometrySnapshot === "function"`

func (h *Harness) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ReadyTimeout)
	defer cancel()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		res, err := h.page.Page.Context(ctx).Eval(readyJS)
		if err == nil && res.Value.Bool() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("harness: not ready after %s: %w", h.cfg.ReadyTimeout, ctx.Err())
		case <-tick.C:
		}
	}
}

// InitReplay builds the replayer for events and resets the page.
func (h *Harness) InitReplay(ctx context.Context, events []session.Event) error {
	rep, err := replay.New(events, replay.WithLogger(h.cfg.Logger))
	if err != nil {
		return fmt.Errorf("harness: %w", err)
	}
	h.rep = rep

	_, err = h.page.Page.Context(ctx).Eval(
		`(w, h, n) => window.initReplay({width: w, height: h, events: n})`,
		h.cfg.Width, h.cfg.Height, len(events),
	)
	if err != nil {
		return fmt.Errorf("harness: initReplay: %w", err)
	}
	return nil
}

// SeekTo renders the state at offsetMs and waits for the iframe to load it.
func (h *Harness) SeekTo(ctx context.Context, offsetMs int64) error {
	if h.rep == nil {
		return errors.New("harness: SeekTo before InitReplay")
	}
	st, err := h.rep.StateAt(offsetMs)
	if err != nil {
		return fmt.Errorf("harness: %w", err)
	}
	doc, err := st.HTML()
	if err != nil {
		return fmt.Errorf("harness: %w", err)
	}
	w, ht := st.Width, st.Height
	if w <= 0 || ht <= 0 {
		w, ht = h.cfg.Width, h.cfg.Height
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.SeekTimeout)
	defer cancel()
	if _, err := h.page.Page.Context(ctx).Eval(`(doc, w, h) => window.seekTo(doc, w, h)`, string(doc), w, ht); err != nil {
		return fmt.Errorf("harness: seekTo %d: %w", offsetMs, err)
	}
	return nil
}

// GeometrySnapshot reads the bounding boxes of the rendered elements.
func (h *Harness) GeometrySnapshot(ctx context.Context) ([]geometry.Element, error) {
	res, err := h.page.Page.Context(ctx).Eval(`() => window.getGeometrySnapshot()`)
	if err != nil {
		return nil, fmt.Errorf("harness: getGeometrySnapshot: %w", err)
	}
	var elements []geometry.Element
	if err := res.Value.Unmarshal(&elements); err != nil {
		return nil, fmt.Errorf("harness: decode geometry: %w", err)
	}
	return elements, nil
}

// Close closes the page and stops the harness server. The browser itself
// belongs to the Manager.
func (h *Harness) Close() error {
	var errs []error
	if h.page != nil {
		errs = append(errs, h.page.Close())
		h.page = nil
	}
	if h.srv != nil {
		errs = append(errs, h.srv.Close())
		h.srv = nil
	}
	return errors.Join(errs...)
}
