package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is one page opened in the shared browser for a single render.
type Tab struct {
	Page   *rod.Page
	router *rod.HijackRouter
}

// OpenTab creates a blank page with the manager's stealth and resource
// blocking applied. The caller must Close it; the browser stays up.
func (m *Manager) OpenTab(ctx context.Context) (*Tab, error) {
	b, err := m.Browser(ctx)
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if m.cfg.Stealth {
		page, err = stealth.Page(b.Context(ctx))
	} else {
		page, err = b.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	// Detach the page from the request context so cleanup still works
	// after the request is cancelled.
	page = page.Context(context.WithoutCancel(ctx))

	t := &Tab{Page: page}
	if len(m.cfg.ResourceBlocking) > 0 {
		router, err := blockResources(page, m.cfg.ResourceBlocking)
		if err != nil {
			m.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		} else {
			t.router = router
		}
	}
	return t, nil
}

// Navigate loads pageURL in the tab. A load that outlives timeout is logged
// and the partially loaded page is kept.
func (t *Tab) Navigate(ctx context.Context, pageURL string, timeout time.Duration, logger *slog.Logger) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := t.Page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := t.Page.Context(navCtx).WaitLoad(); err != nil && logger != nil {
		logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return nil
}

// Close stops request interception and closes the page.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
	}
	if t.Page == nil {
		return nil
	}
	return t.Page.Close()
}

// IsGone reports whether err from closing a page means the page or the
// browser had already gone away.
func IsGone(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"target closed",
		"no target with given id",
		"session closed",
		"context canceled",
		"use of closed network connection",
		"websocket: close",
		"eof",
		"browser has disconnected",
		"already closed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
