package transition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/snapwipe/idgen"
	"github.com/hazyhaar/snapwipe/wipe"
)

// DefaultCaptureTimeout bounds every rasterization and view-transition
// capture.
const DefaultCaptureTimeout = 4 * time.Second

// ErrCaptureTimeout is returned by a capture that outlived the deadline.
var ErrCaptureTimeout = errors.New("transition: capture timed out")

// Config tunes an Orchestrator. Zero values are usable.
type Config struct {
	Priority       []Strategy
	CaptureTimeout time.Duration
	// TwoShot captures an "after" image once the theme has flipped behind
	// the cover and wipes between the two images. Without it the cover is
	// wiped away to reveal the live page.
	TwoShot bool

	Motion        wipe.Motion
	Clock         wipe.Clock
	FrameInterval time.Duration

	Logger *slog.Logger
	IDs    idgen.Generator
}

func (c *Config) defaults() {
	if len(c.Priority) == 0 {
		c.Priority = DefaultPriority
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = DefaultCaptureTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.IDs == nil {
		c.IDs = idgen.Prefixed("wipe_", idgen.NanoID(12))
	}
}

// Option wires an optional collaborator.
type Option func(*Orchestrator)

// WithRasterizer enables the dom-snapshot strategy.
func WithRasterizer(r Rasterizer) Option {
	return func(o *Orchestrator) { o.raster = r }
}

// WithViewTransitioner enables the view-transition strategies when the
// transitioner reports support.
func WithViewTransitioner(v ViewTransitioner) Option {
	return func(o *Orchestrator) { o.vt = v }
}

// Session is one toggle interaction, from the first Toggle to teardown.
type Session struct {
	ID        string
	Original  Theme
	Target    Theme
	Direction wipe.Direction
	Strategy  Strategy
	Before    Image
	After     Image
	Capturing bool

	ctx    context.Context
	engine *wipe.Engine
	done   chan struct{}
	ended  bool

	// Surface state to undo on teardown.
	tornDown     bool
	covered      bool
	scrollLocked bool
	wipeMode     bool
	vtActive     bool
}

// SessionInfo is a read-only view of the active session.
type SessionInfo struct {
	ID        string
	Original  Theme
	Target    Theme
	Direction wipe.Direction
	Strategy  Strategy
	Capturing bool
	HasBefore bool
	HasAfter  bool
	Progress  float64
	Drivers   int
}

// Orchestrator runs at most one Session at a time.
type Orchestrator struct {
	cfg     Config
	log     *slog.Logger
	theme   ThemeProvider
	surface Surface
	raster  Rasterizer
	vt      ViewTransitioner

	mu       sync.Mutex
	session  *Session
	route    string
	routeSet bool
}

// New creates an orchestrator drawing on surface. Without a rasterizer or a
// view transitioner every toggle is an instant switch.
func New(theme ThemeProvider, surface Surface, cfg Config, opts ...Option) *Orchestrator {
	cfg.defaults()
	o := &Orchestrator{
		cfg:     cfg,
		log:     cfg.Logger,
		theme:   theme,
		surface: surface,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Toggle starts a transition to the opposite theme. While a session is
// capturing the call is ignored; while it is animating the call reverses
// it. Capture failures degrade to an instant switch and are not returned.
func (o *Orchestrator) Toggle(ctx context.Context) error {
	o.mu.Lock()
	if s := o.session; s != nil {
		if s.Capturing {
			o.mu.Unlock()
			o.log.Debug("transition: toggle ignored while capturing", "session", s.ID)
			return nil
		}
		prev := s.Target
		target := prev.Opposite()
		s.Target = target
		to := 100.0
		if target == s.Original {
			to = 0
		}
		eng := s.engine
		o.mu.Unlock()

		err := eng.Retarget(to)
		if err == nil {
			o.log.Debug("transition: retarget", "session", s.ID, "target", target, "progress", eng.Progress())
			return nil
		}
		if !errors.Is(err, wipe.ErrNotRunning) {
			return fmt.Errorf("transition: retarget: %w", err)
		}
		// The animation settled and the session is tearing down. Let it
		// finish, then start a fresh one.
		o.mu.Lock()
		if !s.ended {
			s.Target = prev
		}
		o.mu.Unlock()
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return o.Toggle(ctx)
	}

	s := &Session{
		ID:        o.cfg.IDs(),
		Capturing: true,
		ctx:       context.WithoutCancel(ctx),
		done:      make(chan struct{}),
	}
	o.session = s
	o.mu.Unlock()
	return o.run(ctx, s)
}

func (o *Orchestrator) run(ctx context.Context, s *Session) error {
	current, err := o.theme.Resolved(ctx)
	if err != nil {
		o.endSession(s)
		return fmt.Errorf("transition: resolve theme: %w", err)
	}
	strategy, ok := SelectStrategy(o.capabilities(ctx), o.cfg.Priority)
	p := plan{original: current, target: current.Opposite(), dir: DirectionFor(current)}

	o.mu.Lock()
	s.Original, s.Target, s.Direction = p.original, p.target, p.dir
	s.Strategy = strategy
	o.mu.Unlock()

	o.log.Info("transition: start",
		"session", s.ID, "from", p.original, "to", p.target,
		"direction", p.dir, "strategy", strategy)

	if !ok {
		return o.fallback(s, errors.New("no strategy available"))
	}
	switch strategy {
	case DOMSnapshot:
		return o.runSnapshot(ctx, s, p)
	case ViewTransitionWipe:
		return o.runViewTransition(ctx, s, p, true)
	default:
		return o.runViewTransition(ctx, s, p, false)
	}
}

// plan holds the immutable facts of a session for the capture goroutine, so
// it never reads fields that a concurrent reset clears.
type plan struct {
	original, target Theme
	dir              wipe.Direction
}

func (o *Orchestrator) capabilities(ctx context.Context) Capabilities {
	return Capabilities{
		ViewTransition: o.vt != nil && o.vt.Supported(ctx),
		Rasterizer:     o.raster != nil,
	}
}

// step is one blocking action of a capture sequence.
type step struct {
	name string
	run  func(ctx context.Context) error
}

// sequence runs steps in order. A failing step converts the session into an
// instant switch. A session reset by Navigate while a step was blocked is
// torn down without touching the theme. It reports whether the caller may
// go on to animate.
func (o *Orchestrator) sequence(ctx context.Context, s *Session, steps ...step) (bool, error) {
	for _, st := range steps {
		if err := st.run(ctx); err != nil {
			return false, o.fallback(s, fmt.Errorf("%s: %w", st.name, err))
		}
		if !o.owns(s) {
			o.log.Debug("transition: session reset during capture", "session", s.ID, "step", st.name)
			o.teardown(s)
			o.endSession(s)
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) runSnapshot(ctx context.Context, s *Session, p plan) error {
	pair, hasPair := o.raster.(PairRasterizer)
	var before, after Image
	steps := []step{
		{"capture", func(ctx context.Context) error {
			var err error
			if o.cfg.TwoShot && hasPair {
				before, after, err = o.capturePair(ctx, pair, p.original, p.target)
			} else {
				before, err = o.capture(ctx)
			}
			if err != nil {
				return err
			}
			o.mark(s, func(s *Session) { s.Before, s.After = before, after })
			return nil
		}},
		{"cover", func(ctx context.Context) error {
			return o.engage(ctx, s, coveredFlag, func(ctx context.Context) error {
				return o.surface.Cover(ctx, before)
			}, o.surface.Uncover)
		}},
		{"paint", o.paint},
		{"lock scroll", func(ctx context.Context) error {
			return o.engage(ctx, s, scrollFlag, o.surface.LockScroll, o.surface.UnlockScroll)
		}},
		{"set theme", func(ctx context.Context) error {
			return o.theme.SetTheme(ctx, p.target)
		}},
	}
	if o.cfg.TwoShot {
		steps = append(steps,
			step{"repaint", o.paint},
			step{"capture after", func(ctx context.Context) error {
				if !after.Empty() {
					return nil
				}
				var err error
				if after, err = o.capture(ctx); err != nil {
					return err
				}
				o.mark(s, func(s *Session) { s.After = after })
				return nil
			}},
			step{"underlay", func(ctx context.Context) error {
				return o.engage(ctx, s, coveredFlag, func(ctx context.Context) error {
					return o.surface.Underlay(ctx, after)
				}, o.surface.Uncover)
			}},
		)
	}
	if ok, err := o.sequence(ctx, s, steps...); !ok {
		return err
	}
	return o.animate(s, p)
}

func (o *Orchestrator) runViewTransition(ctx context.Context, s *Session, p plan, wipeStyle bool) error {
	var steps []step
	if wipeStyle {
		steps = append(steps,
			step{"wipe mode", func(ctx context.Context) error {
				err := o.engage(ctx, s, wipeModeFlag, func(ctx context.Context) error {
					return o.surface.SetWipeMode(ctx, true)
				}, func(ctx context.Context) error {
					return o.surface.SetWipeMode(ctx, false)
				})
				if err != nil {
					return err
				}
				return o.surface.Render(ctx, wipe.NewFrame(p.dir, 0))
			}},
		)
	}
	steps = append(steps, step{"begin", func(ctx context.Context) error {
		return o.engage(ctx, s, vtFlag, func(ctx context.Context) error {
			return o.vt.Begin(ctx, p.target, wipeStyle)
		}, o.vt.Finish)
	}})
	if wipeStyle {
		steps = append(steps, step{"lock scroll", func(ctx context.Context) error {
			return o.engage(ctx, s, scrollFlag, o.surface.LockScroll, o.surface.UnlockScroll)
		}})
	}
	if ok, err := o.sequence(ctx, s, steps...); !ok {
		return err
	}
	return o.animate(s, p)
}

// Surface changes teardown undoes.
var (
	coveredFlag  = func(s *Session) *bool { return &s.covered }
	scrollFlag   = func(s *Session) *bool { return &s.scrollLocked }
	wipeModeFlag = func(s *Session) *bool { return &s.wipeMode }
	vtFlag       = func(s *Session) *bool { return &s.vtActive }
)

// engage applies a surface change that teardown must undo, bounded by the
// capture timeout. The flag is set before apply so a teardown running
// meanwhile undoes the change in flight. A change that lands after the
// session was torn down is undone on the spot.
func (o *Orchestrator) engage(ctx context.Context, s *Session, flag func(*Session) *bool, apply, undo func(context.Context) error) error {
	o.mark(s, func(s *Session) { *flag(s) = true })
	_, err := within(ctx, o.cfg.CaptureTimeout, func(ctx context.Context) (struct{}, error) {
		err := apply(ctx)
		o.mu.Lock()
		late := s.tornDown
		if !late {
			*flag(s) = true
		}
		o.mu.Unlock()
		if late {
			if uerr := undo(s.ctx); uerr != nil {
				o.log.Warn("transition: undo late surface change", "session", s.ID, "error", uerr)
			}
		}
		return struct{}{}, err
	})
	return err
}

// paint waits for a paint, which never comes in a hidden tab.
func (o *Orchestrator) paint(ctx context.Context) error {
	_, err := within(ctx, o.cfg.CaptureTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.surface.Paint(ctx)
	})
	return err
}

// animate hands the session to a wipe engine. From here on Toggle reverses
// instead of being ignored.
func (o *Orchestrator) animate(s *Session, p plan) error {
	eng := wipe.New(wipe.Callbacks{
		OnUpdate:   func(f wipe.Frame) { o.render(s, f) },
		OnComplete: func() { o.finish(s, p, true) },
		OnRevert:   func() { o.finish(s, p, false) },
	}, wipe.Options{
		Motion:        o.cfg.Motion,
		Clock:         o.cfg.Clock,
		FrameInterval: o.cfg.FrameInterval,
	})

	o.mu.Lock()
	if o.session != s {
		o.mu.Unlock()
		o.teardown(s)
		o.endSession(s)
		return nil
	}
	s.engine = eng
	s.Capturing = false
	err := eng.Start(p.dir)
	o.mu.Unlock()
	if err != nil {
		return o.fallback(s, err)
	}
	return nil
}

func (o *Orchestrator) render(s *Session, f wipe.Frame) {
	if err := o.surface.Render(s.ctx, f); err != nil {
		o.log.Debug("transition: render frame", "session", s.ID, "error", err)
	}
}

// finish runs on the engine's terminal frame.
func (o *Orchestrator) finish(s *Session, p plan, completed bool) {
	if !o.owns(s) {
		return
	}
	if !completed {
		if err := o.theme.SetTheme(s.ctx, p.original); err != nil {
			o.log.Warn("transition: restore theme", "session", s.ID, "error", err)
		}
	}
	o.teardown(s)
	outcome := "complete"
	if !completed {
		outcome = "reverted"
	}
	o.log.Info("transition: "+outcome, "session", s.ID, "strategy", s.Strategy)
	o.endSession(s)
}

// fallback switches the theme without animation and ends the session.
func (o *Orchestrator) fallback(s *Session, cause error) error {
	o.log.Warn("transition: instant switch", "session", s.ID, "strategy", s.Strategy, "error", cause)
	if !o.owns(s) {
		o.teardown(s)
		o.endSession(s)
		return nil
	}
	o.mu.Lock()
	target := s.Target
	o.mu.Unlock()
	err := o.theme.SetTheme(s.ctx, target)
	o.teardown(s)
	o.endSession(s)
	if err != nil {
		return fmt.Errorf("transition: instant switch: %w", err)
	}
	return nil
}

// teardown undoes every surface change the session made. Each change is
// undone once even when teardown races with Navigate; changes landing
// later are undone by engage.
func (o *Orchestrator) teardown(s *Session) {
	o.mu.Lock()
	s.tornDown = true
	vtActive, wipeMode, covered, locked := s.vtActive, s.wipeMode, s.covered, s.scrollLocked
	s.vtActive, s.wipeMode, s.covered, s.scrollLocked = false, false, false, false
	o.mu.Unlock()

	ctx := s.ctx
	var errs []error
	if vtActive {
		errs = append(errs, o.vt.Finish(ctx))
	}
	if wipeMode {
		errs = append(errs, o.surface.SetWipeMode(ctx, false))
	}
	if covered {
		errs = append(errs, o.surface.Uncover(ctx))
	}
	if locked {
		errs = append(errs, o.surface.UnlockScroll(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		o.log.Warn("transition: teardown", "session", s.ID, "error", err)
	}
}

// endSession releases the session slot and clears its state.
func (o *Orchestrator) endSession(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == s {
		o.session = nil
	}
	if s.ended {
		return
	}
	s.ended = true
	s.Before, s.After = Image{}, Image{}
	s.Original, s.Target = "", ""
	s.Direction = wipe.None
	s.Capturing = false
	s.engine = nil
	close(s.done)
}

func (o *Orchestrator) owns(s *Session) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session == s
}

func (o *Orchestrator) mark(s *Session, fn func(*Session)) {
	o.mu.Lock()
	fn(s)
	o.mu.Unlock()
}

func (o *Orchestrator) capture(ctx context.Context) (Image, error) {
	img, err := within(ctx, o.cfg.CaptureTimeout, o.raster.Rasterize)
	if err != nil {
		return Image{}, err
	}
	if img.Empty() {
		return Image{}, errors.New("transition: rasterizer returned an empty image")
	}
	return img, nil
}

func (o *Orchestrator) capturePair(ctx context.Context, p PairRasterizer, from, to Theme) (Image, Image, error) {
	type pair struct{ before, after Image }
	got, err := within(ctx, o.cfg.CaptureTimeout, func(ctx context.Context) (pair, error) {
		b, a, err := p.RasterizePair(ctx, from, to)
		return pair{b, a}, err
	})
	if err != nil {
		return Image{}, Image{}, err
	}
	if got.before.Empty() {
		return Image{}, Image{}, errors.New("transition: rasterizer returned an empty image")
	}
	return got.before, got.after, nil
}

// within races fn against a deadline. fn gets a context cancelled at the
// deadline and is expected to return soon after.
func within[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	var zero T
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrCaptureTimeout
		}
		return zero, ctx.Err()
	}
}

// Navigate records the current route. A route change stops any running
// animation and clears all transient state, including a capture that will
// never return.
func (o *Orchestrator) Navigate(path string) {
	o.mu.Lock()
	if !o.routeSet || o.route == path {
		o.route, o.routeSet = path, true
		o.mu.Unlock()
		return
	}
	o.route = path
	s := o.session
	o.session = nil
	var eng *wipe.Engine
	if s != nil {
		eng = s.engine
	}
	o.mu.Unlock()

	if s == nil {
		return
	}
	o.log.Info("transition: route changed, session reset", "session", s.ID, "path", path)
	if eng != nil {
		eng.Stop()
	}
	o.teardown(s)
	o.endSession(s)
}

// Wait blocks until the active session, if any, has ended.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	if s == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current describes the active session.
func (o *Orchestrator) Current() (SessionInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.session
	if s == nil {
		return SessionInfo{}, false
	}
	info := SessionInfo{
		ID:        s.ID,
		Original:  s.Original,
		Target:    s.Target,
		Direction: s.Direction,
		Strategy:  s.Strategy,
		Capturing: s.Capturing,
		HasBefore: !s.Before.Empty(),
		HasAfter:  !s.After.Empty(),
	}
	if s.engine != nil {
		info.Progress = s.engine.Progress()
		info.Drivers = s.engine.Drivers()
	}
	return info, true
}
