// Package wipe drives the directional reveal used by theme transitions.
//
// A single progress value in [0,100] is owned by an Engine. The engine moves
// it toward a target (100 = new theme fully revealed, 0 = back to the old
// theme) with a spring or linear motion, and publishes a Frame on every step.
// Frames carry everything a UI layer needs to draw the wipe: the clip-path
// inset for the covering snapshot and the position of the divider line.
package wipe

import (
	"strconv"
	"strings"
)

// Direction is the edge the reveal grows from.
type Direction string

const (
	None     Direction = ""
	TopDown  Direction = "top-down"
	BottomUp Direction = "bottom-up"
)

// ProgressVar is the CSS custom property mirrored on the document root so
// native view-transition pseudo-elements can be clipped by the same value.
const ProgressVar = "--theme-wipe-progress"

// Frame is one published animation step.
type Frame struct {
	Progress   float64   `json:"progress"`
	Direction  Direction `json:"direction"`
	ClipPath   string    `json:"clip_path"`
	DividerTop string    `json:"divider_top"`
}

// NewFrame maps a progress value to its clip-path and divider position.
func NewFrame(dir Direction, progress float64) Frame {
	p := clamp(progress)
	return Frame{
		Progress:   p,
		Direction:  dir,
		ClipPath:   ClipInset(dir, p),
		DividerTop: pct(DividerOffset(dir, p)),
	}
}

// ClipInset returns the clip-path applied to the layer showing the old
// theme. Top-down wipes eat it from the top edge, bottom-up from the bottom.
func ClipInset(dir Direction, progress float64) string {
	p := pct(clamp(progress))
	switch dir {
	case TopDown:
		return "inset(" + p + " 0 0 0)"
	case BottomUp:
		return "inset(0 0 " + p + " 0)"
	}
	return "inset(0 0 0 0)"
}

// DividerOffset is the vertical position of the wipe boundary, as a
// percentage of the viewport height from the top.
func DividerOffset(dir Direction, progress float64) float64 {
	p := clamp(progress)
	if dir == BottomUp {
		return 100 - p
	}
	return p
}

// CSSValue renders progress for ProgressVar.
func (f Frame) CSSValue() string {
	return strconv.FormatFloat(f.Progress, 'f', 2, 64)
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func pct(p float64) string {
	s := strconv.FormatFloat(p, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s + "%"
}
