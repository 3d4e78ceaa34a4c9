// CLAUDE:SUMMARY CLI that records a live page into a session file: CDP engine, download API, mirror sinks, optional archive.
// Command recorder opens a page in Chrome and records it until interrupted.
//
// Usage:
//
//	recorder -url https://example.com               # record, write session-<id>.json on Ctrl-C
//	recorder -config replaygeo.yaml -headful         # interactive recording
//	recorder -url https://example.com -stream        # also mirror events to stdout
//	recorder -url https://example.com -screencast    # also store session-recording-<ts>/ frames
//
// While recording, GET /session on the listen address downloads the
// session so far.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hazyhaar/replaygeo/archive"
	"github.com/hazyhaar/replaygeo/config"
	"github.com/hazyhaar/replaygeo/internal/browser"
	"github.com/hazyhaar/replaygeo/internal/cdp"
	"github.com/hazyhaar/replaygeo/recorder"
	"github.com/hazyhaar/replaygeo/session"
)

type flags struct {
	config     string
	url        string
	out        string
	listen     string
	archive    string
	headful    bool
	stream     bool
	mirror     string
	screencast bool
	logLevel   string
}

func parseFlags(fs *flag.FlagSet, args []string) (flags, error) {
	var f flags
	fs.StringVar(&f.config, "config", "", "path to replaygeo.yaml")
	fs.StringVar(&f.url, "url", "", "page to record (overrides recorder.url)")
	fs.StringVar(&f.out, "out", "", "directory the session file is written to")
	fs.StringVar(&f.listen, "listen", "", "address of the session download API; \"off\" disables it")
	fs.StringVar(&f.archive, "archive", "", "sqlite archive the session is also saved to")
	fs.BoolVar(&f.headful, "headful", false, "show the browser window")
	fs.BoolVar(&f.stream, "stream", false, "mirror events to stdout as JSON lines")
	fs.StringVar(&f.mirror, "mirror", "", "webhook URL events are mirrored to")
	fs.BoolVar(&f.screencast, "screencast", false, "also capture the tab as JPEG frames")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	err := fs.Parse(args)
	return f, err
}

func main() {
	f, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(f.logLevel)}))

	cfg, err := loadConfig(f)
	if err != nil {
		logger.Error("recorder: fatal", "error", err)
		os.Exit(1)
	}
	if cfg.Recorder.URL == "" {
		fmt.Fprintln(os.Stderr, "usage: recorder -url <url> | -config <file>")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdout); err != nil {
		logger.Error("recorder: fatal", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(f flags) (*config.Config, error) {
	cfg := config.Default()
	if f.config != "" {
		c, err := config.Load(f.config)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	rc := &cfg.Recorder
	if f.url != "" {
		rc.URL = f.url
	}
	if f.out != "" {
		rc.OutputDir = f.out
	}
	if f.listen != "" {
		rc.Listen = f.listen
	}
	if f.archive != "" {
		rc.Archive = f.archive
	}
	if f.headful {
		cfg.Browser.Headful = true
	}
	if f.stream {
		rc.Mirror = append(rc.Mirror, config.SinkConfig{Type: "stdout"})
	}
	if f.screencast {
		rc.Screencast.Enabled = true
	}
	if f.mirror != "" {
		rc.Mirror = append(rc.Mirror, config.SinkConfig{Type: "webhook", URL: f.mirror})
	}
	return cfg, nil
}

func consoleOptions(c config.ConsoleConfig) recorder.ConsoleOptions {
	return recorder.ConsoleOptions{
		Levels:            c.Levels,
		LengthThreshold:   c.LengthThreshold,
		StringLengthLimit: c.StringLengthLimit,
		NumOfKeysLimit:    c.NumOfKeysLimit,
		DepthLimit:        c.DepthLimit,
	}
}

// mirrorSink builds the fan-out sink of the configured mirrors, nil when
// there are none.
func mirrorSink(mirrors []config.SinkConfig, stdout io.Writer, logger *slog.Logger) (recorder.Sink, error) {
	var sinks []recorder.Sink
	for _, m := range mirrors {
		switch m.Type {
		case "stdout":
			sinks = append(sinks, recorder.NewStdoutSink(stdout))
		case "webhook":
			if m.URL == "" {
				return nil, errors.New("recorder: webhook mirror without url")
			}
			sinks = append(sinks, recorder.NewWebhookSink(m.URL, nil, logger))
		default:
			return nil, fmt.Errorf("recorder: unknown mirror type %q", m.Type)
		}
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	}
	return recorder.NewRouterSink(logger, sinks...), nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout io.Writer) error {
	rc := cfg.Recorder
	initial, err := session.ParseLocation(rc.URL)
	if err != nil {
		return err
	}
	mirror, err := mirrorSink(rc.Mirror, stdout, logger)
	if err != nil {
		return err
	}

	bc := cfg.Browser
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        bc.Remote,
		Bin:              bc.Bin,
		Headful:          bc.Headful,
		NoSandbox:        bc.NoSandbox,
		Stealth:          bc.Stealth,
		ResourceBlocking: bc.ResourceBlocking,
		Logger:           logger,
	})
	defer mgr.Close()
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("browser launch: %w", err)
	}
	tab, err := browser.OpenTab(ctx, mgr, rc.URL)
	if err != nil {
		return err
	}
	defer tab.Close()

	opts := []recorder.Option{
		recorder.WithLogger(logger),
		recorder.WithConsole(consoleOptions(rc.Console)),
	}
	if mirror != nil {
		opts = append(opts, recorder.WithMirror(mirror, rc.MaxBuffer))
	}
	var rec *recorder.Recorder
	cast := &screencastSwitch{}
	opts = append(opts, recorder.WithEngine(recorder.EngineFunc(
		func(ctx context.Context, emit func(session.Event), navigate func(string)) (func() error, error) {
			con := consoleOptions(rc.Console)
			stopDOM, err := cdp.New(cdp.Config{
				Page:           tab.Page,
				DebounceWindow: rc.Debounce,
				DebounceMax:    rc.MaxBuffer,
				Console:        &con,
				Net:            rec.NetLogger(),
				Logger:         logger,
			}).Start(ctx, emit, navigate)
			if err != nil || !rc.Screencast.Enabled {
				return stopDOM, err
			}
			stopCast, err := startScreencast(ctx, tab.Page, rc, rec.Session().SessionID, logger)
			if err != nil {
				logger.Warn("recorder: screencast disabled", "error", err)
				return stopDOM, nil
			}
			cast.set(stopCast)
			return func() error { return errors.Join(cast.Stop(), stopDOM()) }, nil
		},
	)))
	// Downloading the session ends the screencast, the session keeps recording.
	opts = append(opts, recorder.WithDownloadHook(func() {
		if err := cast.Stop(); err != nil {
			logger.Warn("recorder: screencast stop", "error", err)
		}
	}))
	rec = recorder.New(opts...)

	srv, err := serve(rec, rc.Listen, logger)
	if err != nil {
		return err
	}

	if err := rec.Start(ctx, initial); err != nil {
		return err
	}
	logger.Info("recorder: recording", "url", rc.URL, "listen", rc.Listen)

	<-ctx.Done()

	if err := rec.Stop(); err != nil {
		logger.Warn("recorder: stop", "error", err)
	}
	if srv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(shutCtx)
		cancel()
	}
	return save(rec.Session(), rc, logger)
}

// serve exposes the download API, unless addr is "off".
func serve(rec *recorder.Recorder, addr string, logger *slog.Logger) (*http.Server, error) {
	if addr == "off" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("recorder: listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: recorder.Handler(rec), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("recorder: server", "error", err)
		}
	}()
	return srv, nil
}

// save writes the session file and archives it when configured.
func save(s *session.Session, rc config.RecorderConfig, logger *slog.Logger) error {
	if s == nil || len(s.Events) == 0 {
		logger.Warn("recorder: nothing recorded")
		return nil
	}
	if err := os.MkdirAll(rc.OutputDir, 0o755); err != nil {
		return fmt.Errorf("recorder: output dir: %w", err)
	}
	path, err := s.WriteFile(rc.OutputDir)
	if err != nil {
		return err
	}
	logger.Info("recorder: session written", "path", path, "events", len(s.Events))

	if rc.Archive == "" {
		return nil
	}
	a, err := archive.Open(rc.Archive)
	if err != nil {
		return err
	}
	defer a.Close()
	// A fresh context: the recording context is already canceled here.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.SaveSession(ctx, s); err != nil {
		return err
	}
	logger.Info("recorder: session archived", "archive", rc.Archive, "session_id", s.SessionID)
	return nil
}
