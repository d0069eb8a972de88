package transition

import (
	"context"
	"fmt"
)

// Strategy is how a session produces the frames it wipes between.
type Strategy string

const (
	// ViewTransitionWipe lets the platform capture old and new frames and
	// clips the new one with the wipe progress.
	ViewTransitionWipe Strategy = "view-transition-wipe"
	// ViewTransitionCrossFade plays the platform's default cross-fade.
	ViewTransitionCrossFade Strategy = "view-transition-cross-fade"
	// DOMSnapshot rasterizes the page, covers it with the image, flips the
	// theme underneath and wipes the image away.
	DOMSnapshot Strategy = "dom-snapshot"
)

// DefaultPriority is the order strategies are tried in.
var DefaultPriority = []Strategy{ViewTransitionWipe, DOMSnapshot, ViewTransitionCrossFade}

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case ViewTransitionWipe, ViewTransitionCrossFade, DOMSnapshot:
		return st, nil
	}
	return "", fmt.Errorf("transition: unknown strategy %q", s)
}

// Capabilities describes what the environment offers.
type Capabilities struct {
	ViewTransition bool
	Rasterizer     bool
}

// Supports reports whether s can run with these capabilities.
func (c Capabilities) Supports(s Strategy) bool {
	switch s {
	case ViewTransitionWipe, ViewTransitionCrossFade:
		return c.ViewTransition
	case DOMSnapshot:
		return c.Rasterizer
	}
	return false
}

// SelectStrategy returns the first strategy in priority that the
// capabilities support.
func SelectStrategy(c Capabilities, priority []Strategy) (Strategy, bool) {
	for _, s := range priority {
		if c.Supports(s) {
			return s, true
		}
	}
	return "", false
}

// ThemeProvider reads and writes the document theme.
type ThemeProvider interface {
	Resolved(ctx context.Context) (Theme, error)
	SetTheme(ctx context.Context, t Theme) error
}

// Rasterizer turns the current page into an image. Elements carrying the
// ignore marker must not appear in it.
type Rasterizer interface {
	Rasterize(ctx context.Context) (Image, error)
}

// PairRasterizer renders the page under both themes in one call without
// touching the live document.
type PairRasterizer interface {
	Rasterizer
	RasterizePair(ctx context.Context, from, to Theme) (before, after Image, err error)
}

// ViewTransitioner wraps the platform view-transition primitive.
type ViewTransitioner interface {
	Supported(ctx context.Context) bool
	// Begin applies target inside a view transition and returns once the
	// old and new frames are captured. With wipe set, the default
	// animation is replaced by clipping driven from the progress variable.
	Begin(ctx context.Context, target Theme, wipe bool) error
	// Finish ends the running transition.
	Finish(ctx context.Context) error
}
