package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab wraps a Rod page opened for recording: stealth, resource blocking,
// viewport.
type Tab struct {
	Page    *rod.Page
	PageURL string
	router  *rod.HijackRouter
}

// OpenTab creates a new tab, navigates to pageURL and waits for the load
// event. The navigation is bounded to 30s; a slow load event only logs.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: page, PageURL: pageURL}
	if !mgr.cfg.Headful {
		if err := setViewport(page, mgr.cfg.Width, mgr.cfg.Height); err != nil {
			t.Close()
			return nil, err
		}
	}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.router = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
		t.router = nil
	}
	if t.Page != nil {
		err := t.Page.Close()
		t.Page = nil
		return err
	}
	return nil
}

// IsolatedPage is a blank page inside its own incognito browser context.
type IsolatedPage struct {
	Page    *rod.Page
	context *rod.Browser
}

// OpenIsolated creates a blank page in a fresh incognito context with a
// fixed width x height viewport at device scale 1.
func OpenIsolated(mgr *Manager, width, height int) (*IsolatedPage, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		incognito.Close()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	if err := setViewport(page, width, height); err != nil {
		page.Close()
		incognito.Close()
		return nil, err
	}
	return &IsolatedPage{Page: page, context: incognito}, nil
}

// Close closes the page and disposes of its browser context.
func (p *IsolatedPage) Close() error {
	if p.Page != nil {
		p.Page.Close()
		p.Page = nil
	}
	if p.context != nil {
		err := p.context.Close()
		p.context = nil
		return err
	}
	return nil
}

func setViewport(page *rod.Page, width, height int) error {
	err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("browser: set viewport %dx%d: %w", width, height, err)
	}
	return nil
}
