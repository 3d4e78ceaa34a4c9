package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/replaygeo/config"
	"github.com/hazyhaar/replaygeo/internal/screencast"
)

// screencastSwitch holds the stop func of a running screencast so both the
// engine teardown and the download action can end it.
type screencastSwitch struct {
	mu   sync.Mutex
	stop func() error
}

func (s *screencastSwitch) set(stop func() error) {
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
}

// Stop ends the screencast, if one runs. The capture's own stop func makes
// repeated calls no-ops.
func (s *screencastSwitch) Stop() error {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	return stop()
}

func startScreencast(ctx context.Context, page *rod.Page, rc config.RecorderConfig, sessionID string, logger *slog.Logger) (func() error, error) {
	w, err := screencast.NewWriter(rc.OutputDir, sessionID, time.Now())
	if err != nil {
		return nil, err
	}
	sc := rc.Screencast
	return screencast.Start(ctx, screencast.Config{
		Page:          page,
		Writer:        w,
		Quality:       sc.Quality,
		EveryNthFrame: sc.EveryNthFrame,
		MaxWidth:      sc.MaxWidth,
		MaxHeight:     sc.MaxHeight,
		Logger:        logger,
	})
}
