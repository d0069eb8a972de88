package transition

import (
	"context"

	"github.com/hazyhaar/snapwipe/wipe"
)

// Surface is the UI layer the orchestrator draws on.
type Surface interface {
	// Cover shows img over the whole viewport and returns once it is decoded.
	Cover(ctx context.Context, img Image) error
	// Underlay places img beneath the cover, for two-shot wipes.
	Underlay(ctx context.Context, img Image) error
	// Uncover removes the cover and underlay.
	Uncover(ctx context.Context) error
	LockScroll(ctx context.Context) error
	UnlockScroll(ctx context.Context) error
	// Paint returns after the page has painted at least once.
	Paint(ctx context.Context) error
	// Render applies a wipe frame: cover clip-path, divider position and
	// the wipe.ProgressVar custom property.
	Render(ctx context.Context, f wipe.Frame) error
	// SetWipeMode toggles the root class that switches view-transition
	// pseudo-elements to progress-driven clipping.
	SetWipeMode(ctx context.Context, on bool) error
}
