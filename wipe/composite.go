package wipe

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// DividerColor is the colour of the boundary line drawn by Composite.
var DividerColor = color.RGBA{R: 255, G: 255, B: 255, A: 200}

// Composite renders one wipe frame: after fills the canvas, before is drawn
// over it with the frame's clip applied, and a two pixel divider marks the
// boundary. Either image may be nil. Images are scaled to size.
func Composite(before, after image.Image, f Frame, size image.Point) *image.RGBA {
	bounds := image.Rect(0, 0, size.X, size.Y)
	dst := image.NewRGBA(bounds)
	if after != nil {
		draw.ApproxBiLinear.Scale(dst, bounds, after, after.Bounds(), draw.Src, nil)
	}

	cut := int(math.Round(float64(size.Y) * clamp(f.Progress) / 100))
	if before != nil && cut < size.Y {
		layer := image.NewRGBA(bounds)
		draw.ApproxBiLinear.Scale(layer, bounds, before, before.Bounds(), draw.Src, nil)
		keep := visibleRect(f.Direction, bounds, cut)
		draw.Draw(dst, keep, layer, keep.Min, draw.Over)
	}

	if p := clamp(f.Progress); p > 0 && p < 100 {
		y := int(math.Round(float64(size.Y) * DividerOffset(f.Direction, p) / 100))
		line := image.Rect(0, y-1, size.X, y+1).Intersect(bounds)
		draw.Draw(dst, line, image.NewUniform(DividerColor), image.Point{}, draw.Over)
	}
	return dst
}

// visibleRect is the part of the old-theme layer still showing after cut
// rows have been wiped away.
func visibleRect(dir Direction, bounds image.Rectangle, cut int) image.Rectangle {
	switch dir {
	case TopDown:
		return image.Rect(bounds.Min.X, bounds.Min.Y+cut, bounds.Max.X, bounds.Max.Y)
	case BottomUp:
		return image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y-cut)
	}
	return bounds
}
