package geometry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hazyhaar/replaygeo/session"
)

// Harness drives a replay. Every call completes before the next starts.
type Harness interface {
	// InitReplay binds the harness to events without playing them.
	InitReplay(ctx context.Context, events []session.Event) error
	// SeekTo renders the state at offsetMs after the first event and
	// returns once the render is done.
	SeekTo(ctx context.Context, offsetMs int64) error
	// GeometrySnapshot returns the bounding boxes of rendered elements.
	GeometrySnapshot(ctx context.Context) ([]Element, error)
}

// ErrNoTimestamps is returned when no event carries a numeric timestamp.
var ErrNoTimestamps = errors.New("geometry: no event has a numeric timestamp")

// Defaults.
const (
	DefaultStep        = 500 * time.Millisecond
	DefaultSettleDelay = 150 * time.Millisecond
	DefaultInitDelay   = 500 * time.Millisecond
)

// Extractor runs the sampling loop over one harness. It is strictly
// sequential and not safe for concurrent use.
type Extractor struct {
	harness  Harness
	step     time.Duration
	settle   time.Duration
	init     time.Duration
	logger   *slog.Logger
	progress func(pct int)
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithStep sets the sampling step. Sub-millisecond steps are rejected by
// Run.
func WithStep(d time.Duration) Option { return func(x *Extractor) { x.step = d } }

// WithSettleDelay sets the wait between a seek and the geometry read.
func WithSettleDelay(d time.Duration) Option { return func(x *Extractor) { x.settle = d } }

// WithInitDelay sets the wait after InitReplay.
func WithInitDelay(d time.Duration) Option { return func(x *Extractor) { x.init = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(x *Extractor) { x.logger = l } }

// WithProgress receives the covered percentage after every step.
func WithProgress(fn func(pct int)) Option { return func(x *Extractor) { x.progress = fn } }

// NewExtractor creates an Extractor sampling through h.
func NewExtractor(h Harness, opts ...Option) *Extractor {
	x := &Extractor{
		harness: h,
		step:    DefaultStep,
		settle:  DefaultSettleDelay,
		init:    DefaultInitDelay,
		logger:  slog.Default(),
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(x)
	}
	return x
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run samples s and returns the geometry timeline. recording is the path
// (or name) of the file s was loaded from; its base name is recorded in
// the output. Any harness error aborts the run and no output is returned.
func (x *Extractor) Run(ctx context.Context, s *session.Session, recording string) (*Output, error) {
	stepMs := x.step.Milliseconds()
	if stepMs <= 0 {
		return nil, fmt.Errorf("geometry: step must be at least 1ms, got %s", x.step)
	}
	if len(s.Events) == 0 {
		return nil, session.ErrNoEvents
	}
	first, last, ok := session.TimeRange(s.Events)
	if !ok {
		return nil, ErrNoTimestamps
	}
	routes, _ := session.SplitRoutes(s.Events)

	x.logger.Info("geometry: extracting",
		"session_id", s.SessionID,
		"events", len(s.Events),
		"routes", len(routes),
		"duration_ms", last-first,
		"snapshots", SnapshotCount(first, last, stepMs),
	)

	if err := x.harness.InitReplay(ctx, s.Events); err != nil {
		return nil, fmt.Errorf("geometry: init replay: %w", err)
	}
	if err := x.sleep(ctx, x.init); err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}

	out := &Output{
		SessionID:         s.SessionID,
		OriginalRecording: filepath.Base(recording),
		Snapshots:         make([]Snapshot, 0, SnapshotCount(first, last, stepMs)),
	}

	for t := first; t <= last; t += stepMs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("geometry: canceled at offset %d: %w", t-first, err)
		}
		offset := t - first

		if err := x.harness.SeekTo(ctx, offset); err != nil {
			return nil, fmt.Errorf("geometry: seek to %d: %w", offset, err)
		}
		if err := x.sleep(ctx, x.settle); err != nil {
			return nil, fmt.Errorf("geometry: canceled at offset %d: %w", offset, err)
		}
		elements, err := x.harness.GeometrySnapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("geometry: snapshot at %d: %w", offset, err)
		}
		if elements == nil {
			elements = []Element{}
		}

		out.Snapshots = append(out.Snapshots, Snapshot{
			Timestamp: t,
			OffsetMs:  offset,
			Route:     ResolveRoute(routes, t),
			Elements:  elements,
		})

		pct := Progress(t, first, last)
		if x.progress != nil {
			x.progress(pct)
		}
		x.logger.Debug("geometry: step", "offset_ms", offset, "elements", len(elements), "progress", pct)
	}

	x.logger.Info("geometry: extraction complete", "session_id", s.SessionID, "snapshots", len(out.Snapshots))
	return out, nil
}
