package screencast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Config configures a capture.
type Config struct {
	Page   *rod.Page
	Writer *Writer

	// Quality is the JPEG quality, 0..100. Default: 80.
	Quality int
	// EveryNthFrame keeps one frame in n. Default: 1.
	EveryNthFrame int
	// MaxWidth and MaxHeight bound the frame size. Zero keeps the viewport size.
	MaxWidth, MaxHeight int

	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) defaults() {
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = 80
	}
	if c.EveryNthFrame <= 0 {
		c.EveryNthFrame = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Start begins the screencast. The returned stop func ends it, closes the
// writer and logs the recording directory; later calls return the first
// result.
func Start(ctx context.Context, cfg Config) (stop func() error, err error) {
	cfg.defaults()
	if cfg.Page == nil || cfg.Writer == nil {
		return nil, fmt.Errorf("screencast: page and writer are required")
	}

	ctx, cancel := context.WithCancel(ctx)
	page := cfg.Page.Context(ctx)
	done := make(chan struct{})

	wait := page.EachEvent(func(e *proto.PageScreencastFrame) {
		if err := cfg.Writer.Add(e.Data, frameOf(e.Metadata, cfg.Now)); err != nil {
			cfg.Logger.Warn("screencast: frame dropped", "error", err)
		}
		// Chrome sends the next frame only after the ack.
		if err := (proto.PageScreencastFrameAck{SessionID: e.SessionID}).Call(page); err != nil && ctx.Err() == nil {
			cfg.Logger.Debug("screencast: ack", "error", err)
		}
	})
	go func() {
		defer close(done)
		wait()
	}()

	req := proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &cfg.Quality,
		EveryNthFrame: &cfg.EveryNthFrame,
	}
	if cfg.MaxWidth > 0 {
		req.MaxWidth = &cfg.MaxWidth
	}
	if cfg.MaxHeight > 0 {
		req.MaxHeight = &cfg.MaxHeight
	}
	if err := req.Call(page); err != nil {
		cancel()
		<-done
		cfg.Writer.Close()
		return nil, fmt.Errorf("screencast: start: %w", err)
	}
	cfg.Logger.Info("screencast: started", "dir", cfg.Writer.Dir())

	var once sync.Once
	var stopErr error
	return func() error {
		once.Do(func() {
			if err := (proto.PageStopScreencast{}).Call(cfg.Page); err != nil {
				cfg.Logger.Debug("screencast: stop", "error", err)
			}
			cancel()
			<-done
			dir, err := cfg.Writer.Close()
			if err != nil {
				stopErr = err
				return
			}
			cfg.Logger.Info("screencast: stopped", "dir", dir, "frames", cfg.Writer.Len())
		})
		return stopErr
	}, nil
}

// frameOf converts CDP frame metadata. Frames without a timestamp are
// stamped with now.
func frameOf(m *proto.PageScreencastFrameMetadata, now func() time.Time) Frame {
	if m == nil {
		return Frame{Timestamp: now().UnixMilli()}
	}
	f := Frame{
		Timestamp:    int64(float64(m.Timestamp) * 1000),
		DeviceWidth:  m.DeviceWidth,
		DeviceHeight: m.DeviceHeight,
		ScrollX:      m.ScrollOffsetX,
		ScrollY:      m.ScrollOffsetY,
	}
	if m.Timestamp == 0 {
		f.Timestamp = now().UnixMilli()
	}
	return f
}
