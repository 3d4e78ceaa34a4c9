// CLAUDE:SUMMARY CLI that replays a recorded session in headless Chrome and writes its geometry timeline.
// Command extract-geometry replays a recorded session and samples element
// geometry at a fixed cadence.
//
// Usage:
//
//	extract-geometry <session.json>
//
// The timeline is written next to the input as <basename>.geometry.json and
// its path printed on stdout. REPLAYGEO_CONFIG names an optional YAML
// configuration file (extractor section).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/replaygeo/archive"
	"github.com/hazyhaar/replaygeo/config"
	"github.com/hazyhaar/replaygeo/geometry"
	"github.com/hazyhaar/replaygeo/internal/browser"
	"github.com/hazyhaar/replaygeo/internal/harness"
	"github.com/hazyhaar/replaygeo/session"
)

const usage = "usage: extract-geometry <session.json>"

// openFunc opens a replay harness; the returned func releases it.
type openFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (geometry.Harness, func() error, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	code := run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr, logger, openChrome)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer, logger *slog.Logger, open openFunc) int {
	if err := extract(ctx, args, getenv, stdout, logger, open); err != nil {
		fmt.Fprintf(stderr, "extract-geometry: %v\n", err)
		return 1
	}
	return 0
}

func extract(ctx context.Context, args []string, getenv func(string) string, stdout io.Writer, logger *slog.Logger, open openFunc) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New(usage)
	}
	input := args[0]

	cfg := config.Default()
	if path := getenv("REPLAYGEO_CONFIG"); path != "" {
		c, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = c
	}

	// Everything that can be wrong with the input is reported before a
	// browser is started.
	s, err := session.Load(input)
	if err != nil {
		return err
	}
	if _, _, ok := session.TimeRange(s.Events); !ok {
		return geometry.ErrNoTimestamps
	}

	h, closeHarness, err := open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeHarness(); err != nil {
			logger.Warn("extract-geometry: close harness", "error", err)
		}
	}()

	ex := cfg.Extractor
	x := geometry.NewExtractor(h,
		geometry.WithStep(ex.Step),
		geometry.WithSettleDelay(ex.SettleDelay),
		geometry.WithInitDelay(ex.InitDelay),
		geometry.WithLogger(logger),
		geometry.WithProgress(progressLogger(logger)),
	)
	out, err := x.Run(ctx, s, input)
	if err != nil {
		return err
	}

	path := geometry.OutputPath(input)
	if err := out.WriteFile(path); err != nil {
		return err
	}
	logger.Info("extract-geometry: written", "path", path, "snapshots", len(out.Snapshots))

	if ex.Archive != "" {
		if err := archiveRun(ctx, ex.Archive, s, out, ex.Step.Milliseconds()); err != nil {
			// The file is already written; the archive is a secondary copy.
			logger.Error("extract-geometry: archive", "path", ex.Archive, "error", err)
		}
	}

	fmt.Fprintln(stdout, path)
	return nil
}

// progressLogger logs once per started tenth of the run.
func progressLogger(logger *slog.Logger) func(int) {
	last := -1
	return func(pct int) {
		if pct/10 == last {
			return
		}
		last = pct / 10
		logger.Info("extract-geometry: progress", "percent", pct)
	}
}

func archiveRun(ctx context.Context, path string, s *session.Session, out *geometry.Output, stepMs int64) error {
	a, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.SaveSession(ctx, s); err != nil {
		return err
	}
	_, err = a.SaveGeometry(ctx, out, stepMs)
	return err
}

// openChrome launches Chrome and opens the replay harness in it.
func openChrome(ctx context.Context, cfg *config.Config, logger *slog.Logger) (geometry.Harness, func() error, error) {
	bc := cfg.Browser
	mgr := browser.NewManager(browser.Config{
		RemoteURL: bc.Remote,
		Bin:       bc.Bin,
		NoSandbox: bc.NoSandbox,
		Width:     cfg.Extractor.Viewport.Width,
		Height:    cfg.Extractor.Viewport.Height,
		Logger:    logger,
	})
	h, err := harness.Open(ctx, harness.Config{
		Manager:      mgr,
		Width:        cfg.Extractor.Viewport.Width,
		Height:       cfg.Extractor.Viewport.Height,
		ReadyTimeout: cfg.Extractor.ReadyTimeout,
		Logger:       logger,
	})
	if err != nil {
		mgr.Close()
		return nil, nil, err
	}
	return h, func() error {
		herr := h.Close()
		return errors.Join(herr, mgr.Close())
	}, nil
}
