package render

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestCapture_ViewportOnly(t *testing.T) {
	req := Capture(Job{Width: 1280, Height: 800, Scale: 1})
	if req.Format != proto.PageCaptureScreenshotFormatPng {
		t.Fatalf("format = %v", req.Format)
	}
	if req.Clip != nil || req.CaptureBeyondViewport {
		t.Fatal("unscrolled job must capture the plain viewport")
	}
}

// WHAT: a job recorded at a scroll offset.
// WHY: the image must show what the user saw, not the top of the page.
func TestCapture_ScrollOffset(t *testing.T) {
	req := Capture(Job{Width: 400, Height: 300, Scale: 2, ScrollY: 1200})
	if req.Clip == nil || !req.CaptureBeyondViewport {
		t.Fatal("scroll offset not applied")
	}
	c := req.Clip
	if c.X != 0 || c.Y != 1200 || c.Width != 400 || c.Height != 300 || c.Scale != 1 {
		t.Fatalf("clip = %+v", c)
	}
}
