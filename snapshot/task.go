package snapshot

import "math"

// Viewport bounds applied to every task.
const (
	MinWidth    = 100
	MaxWidth    = 3840
	MinHeight   = 100
	MaxHeight   = 2160
	MinScale    = 1.0
	MaxScale    = 3.0
	DefaultW    = 1280
	DefaultH    = 800
	DefaultDPR  = 1.0
	dataURLHead = "data:image/png;base64,"
)

// Task is one render request: a static HTML document and the viewport it
// was serialized from.
type Task struct {
	HTML             string  `json:"html"`
	Width            int     `json:"width,omitempty"`
	Height           int     `json:"height,omitempty"`
	DevicePixelRatio float64 `json:"devicePixelRatio,omitempty"`
}

// Clamp returns t with missing dimensions defaulted and every dimension
// forced into the safe range.
func (t Task) Clamp() Task {
	if t.Width <= 0 {
		t.Width = DefaultW
	}
	if t.Height <= 0 {
		t.Height = DefaultH
	}
	if t.DevicePixelRatio <= 0 || math.IsNaN(t.DevicePixelRatio) {
		t.DevicePixelRatio = DefaultDPR
	}
	t.Width = min(max(t.Width, MinWidth), MaxWidth)
	t.Height = min(max(t.Height, MinHeight), MaxHeight)
	t.DevicePixelRatio = min(max(t.DevicePixelRatio, MinScale), MaxScale)
	return t
}
