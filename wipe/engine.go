package wipe

import (
	"errors"
	"sync"
	"time"
)

// State is the engine's position in the wipe lifecycle.
type State int

const (
	Idle State = iota
	Forward
	Backward
	Complete
	Reverted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	case Complete:
		return "complete"
	case Reverted:
		return "reverted"
	}
	return "unknown"
}

var (
	ErrStarted    = errors.New("wipe: engine already started")
	ErrNotRunning = errors.New("wipe: engine not running")
	ErrDirection  = errors.New("wipe: direction required")
)

// Callbacks are invoked from the driver goroutine. OnComplete and OnRevert
// run after the final OnUpdate and after the engine has released its
// driver, so they may call Stop.
type Callbacks struct {
	OnUpdate   func(Frame)
	OnComplete func()
	OnRevert   func()
}

// Options tune the driver. Zero values pick a 60fps real clock and a
// critically damped spring.
type Options struct {
	Motion        Motion
	Clock         Clock
	FrameInterval time.Duration
}

func (o *Options) defaults() {
	if o.FrameInterval <= 0 {
		o.FrameInterval = time.Second / 60
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	if o.Motion == nil {
		o.Motion = NewSpring(o.FrameInterval, 6.0, 1.0)
	}
}

// Engine owns one progress value and at most one driver goroutine.
// Reversals retarget the running driver instead of replacing it, so the
// progress curve stays continuous across direction changes.
type Engine struct {
	opts Options
	cb   Callbacks

	mu       sync.Mutex
	state    State
	dir      Direction
	progress float64
	velocity float64
	target   float64
	running  bool
	drivers  int
	stop     chan struct{}
	done     chan struct{}
}

// New creates an idle engine.
func New(cb Callbacks, opts Options) *Engine {
	opts.defaults()
	done := make(chan struct{})
	close(done)
	return &Engine{opts: opts, cb: cb, done: done}
}

// Start fixes the direction and animates progress from 0 toward 100.
func (e *Engine) Start(dir Direction) error {
	if dir != TopDown && dir != BottomUp {
		return ErrDirection
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Idle {
		return ErrStarted
	}
	e.dir = dir
	e.progress = 0
	e.velocity = 0
	e.target = 100
	e.state = Forward
	e.launchLocked()
	return nil
}

// Retarget redirects the running animation toward 0 or 100 from wherever
// progress currently is.
func (e *Engine) Retarget(to float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Forward && e.state != Backward {
		return ErrNotRunning
	}
	if to >= 50 {
		e.target = 100
		e.state = Forward
	} else {
		e.target = 0
		e.state = Backward
	}
	if !e.running {
		e.launchLocked()
	}
	return nil
}

// Reverse flips the current target.
func (e *Engine) Reverse() error {
	e.mu.Lock()
	to := 100 - e.target
	e.mu.Unlock()
	return e.Retarget(to)
}

// Stop halts the driver without invoking completion callbacks. Progress and
// state are left where they were.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	done := e.done
	e.mu.Unlock()
	<-done
}

// Done is closed when the current driver goroutine exits.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *Engine) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Direction() Direction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir
}

// Target is 100 while moving forward and 0 while moving back.
func (e *Engine) Target() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target
}

// Drivers counts the driver goroutines started over the engine's life.
func (e *Engine) Drivers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drivers
}

// Frame returns the frame for the current progress.
func (e *Engine) Frame() Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return NewFrame(e.dir, e.progress)
}

func (e *Engine) launchLocked() {
	e.running = true
	e.drivers++
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.drive(e.stop, e.done)
}

func (e *Engine) drive(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := e.opts.Clock.NewTicker(e.opts.FrameInterval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C():
			frame, final, ok := e.step(stop)
			if ok {
				if e.cb.OnUpdate != nil {
					e.cb.OnUpdate(frame)
				}
				if final != nil {
					final()
				}
			}
			last := !ok || final != nil
			if last {
				t.Stop()
			}
			if a, isAcker := t.(frameAcker); isAcker {
				a.ack()
			}
			if last {
				return
			}
		}
	}
}

// step advances one frame. It returns the terminal callback when the
// animation has settled, and ok=false if the driver was stopped meanwhile.
func (e *Engine) step(stop <-chan struct{}) (Frame, func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-stop:
		return Frame{}, nil, false
	default:
	}

	pos, vel := e.opts.Motion.Step(e.progress, e.velocity, e.target, e.opts.FrameInterval)
	pos = clamp(pos)
	var final func()
	if e.opts.Motion.Settled(pos, vel, e.target) {
		pos, vel = e.target, 0
		e.running = false
		if e.target == 100 {
			e.state = Complete
			final = e.cb.OnComplete
		} else {
			e.state = Reverted
			final = e.cb.OnRevert
		}
		if final == nil {
			final = func() {}
		}
	}
	e.progress, e.velocity = pos, vel
	return NewFrame(e.dir, pos), final, true
}
