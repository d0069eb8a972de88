// Package domsnap serializes a live page into static HTML that a renderer
// without scripts can reproduce.
//
// Plain outerHTML loses state that only exists in the running page: canvas
// pixels, form values typed by the user, the hovered element and the text
// selection. Each of those is recovered by an Extractor that runs in the
// page and returns Patches. The Serializer stamps the elements involved,
// clones the markup, applies the patches to the parsed clone and removes
// the stamps from both sides.
package domsnap

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
)

// Attributes shared with the renderer and the transition surface.
const (
	// IgnoreAttr marks elements that must not appear in a snapshot.
	IgnoreAttr = "data-snapshot-ignore"
	// ScrollXAttr and ScrollYAttr carry the scroll offset on <html>.
	ScrollXAttr = "data-snapshot-scroll-x"
	ScrollYAttr = "data-snapshot-scroll-y"
	// StampAttr temporarily identifies live elements referenced by patches.
	StampAttr = "data-snap-id"
)

// Live runs a script in a live page. js is a function expression; args are
// passed to it and its (awaited) result is decoded into out when out is
// not nil.
type Live interface {
	Eval(ctx context.Context, js string, out any, args ...any) error
}

// RodLive adapts a rod page.
type RodLive struct {
	Page *rod.Page
}

// Eval implements Live.
func (l RodLive) Eval(ctx context.Context, js string, out any, args ...any) error {
	res, err := l.Page.Context(ctx).Evaluate(rod.Eval(js, args...).ByPromise())
	if err != nil {
		return fmt.Errorf("domsnap: eval: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := res.Value.Unmarshal(out); err != nil {
		return fmt.Errorf("domsnap: decode result: %w", err)
	}
	return nil
}
