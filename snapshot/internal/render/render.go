// Package render turns one HTML document into a viewport PNG in a page of
// the shared browser.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/snapwipe/browser"
)

// Job is one normalized screenshot request.
type Job struct {
	HTML    string
	Width   int
	Height  int
	Scale   float64
	ScrollX float64
	ScrollY float64
}

// Page renders jobs. Each page is used for exactly one job and closed.
type Page interface {
	Render(ctx context.Context, job Job) ([]byte, error)
	Close() error
}

// Opener hands out fresh pages.
type Opener interface {
	Open(ctx context.Context) (Page, error)
	Warm(ctx context.Context) error
}

// Browser opens pages in the process-wide browser.
type Browser struct {
	m      *browser.Manager
	settle time.Duration
}

// NewBrowser returns an Opener over m. settle is the fixed wait between
// loading the document and capturing it.
func NewBrowser(m *browser.Manager, settle time.Duration) *Browser {
	return &Browser{m: m, settle: settle}
}

// Open creates a new tab.
func (b *Browser) Open(ctx context.Context) (Page, error) {
	tab, err := b.m.OpenTab(ctx)
	if err != nil {
		return nil, err
	}
	return &tabPage{tab: tab, settle: b.settle}, nil
}

// Warm initializes the browser.
func (b *Browser) Warm(ctx context.Context) error {
	return b.m.Warm(ctx)
}

type tabPage struct {
	tab    *browser.Tab
	settle time.Duration
}

func (p *tabPage) Close() error {
	return p.tab.Close()
}

// Render loads job.HTML with scripts disabled and captures the viewport at
// the recorded scroll offset.
func (p *tabPage) Render(ctx context.Context, job Job) ([]byte, error) {
	page := p.tab.Page.Context(ctx)

	err := proto.EmulationSetDeviceMetricsOverride{
		Width:             job.Width,
		Height:            job.Height,
		DeviceScaleFactor: job.Scale,
	}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("render: viewport: %w", err)
	}
	// Scripts stay off so the snapshot shows the serialized state, not
	// whatever the page's code would do on load.
	if err := (proto.EmulationSetScriptExecutionDisabled{Value: true}).Call(page); err != nil {
		return nil, fmt.Errorf("render: disable scripts: %w", err)
	}
	if err := page.SetDocumentContent(job.HTML); err != nil {
		return nil, fmt.Errorf("render: set content: %w", err)
	}

	if p.settle > 0 {
		t := time.NewTimer(p.settle)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}

	png, err := page.Screenshot(false, Capture(job))
	if err != nil {
		return nil, fmt.Errorf("render: screenshot: %w", err)
	}
	return png, nil
}

// Capture builds the screenshot request for job. A non-zero scroll offset
// is applied as a clip beyond the viewport, which needs no page script.
func Capture(job Job) *proto.PageCaptureScreenshot {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if job.ScrollX > 0 || job.ScrollY > 0 {
		req.CaptureBeyondViewport = true
		req.Clip = &proto.PageViewport{
			X:      job.ScrollX,
			Y:      job.ScrollY,
			Width:  float64(job.Width),
			Height: float64(job.Height),
			Scale:  1,
		}
	}
	return req
}
