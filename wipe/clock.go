package wipe

import (
	"sync"
	"time"
)

// Clock produces frame tickers. The real clock wraps time.Ticker; tests use
// ManualClock to deliver frames one at a time.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers frame times until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// ManualClock hands out tickers that only fire when Tick is called.
type ManualClock struct {
	mu      sync.Mutex
	tickers []*manualTicker
	now     time.Time
}

// NewManualClock returns a clock frozen at an arbitrary instant.
func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Unix(0, 0)}
}

func (c *ManualClock) NewTicker(time.Duration) Ticker {
	t := &manualTicker{
		ch:      make(chan time.Time),
		acks:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

// Tick delivers one frame to the newest running ticker and waits until the
// driver has processed it. It reports false if no ticker took the frame
// within a second.
func (c *ManualClock) Tick() bool {
	c.mu.Lock()
	var t *manualTicker
	for i := len(c.tickers) - 1; i >= 0; i-- {
		if !c.tickers[i].isStopped() {
			t = c.tickers[i]
			break
		}
	}
	c.now = c.now.Add(16 * time.Millisecond)
	now := c.now
	c.mu.Unlock()
	if t == nil {
		return false
	}
	select {
	case t.ch <- now:
	case <-t.stopped:
		return false
	case <-time.After(time.Second):
		return false
	}
	select {
	case <-t.acks:
	case <-time.After(time.Second):
	}
	return true
}

// Advance calls Tick up to n times and returns how many frames were taken.
func (c *ManualClock) Advance(n int) int {
	got := 0
	for range n {
		if !c.Tick() {
			break
		}
		got++
	}
	return got
}

// Tickers reports how many tickers were ever created.
func (c *ManualClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// frameAcker is implemented by tickers that want to know when the driver
// has finished processing a frame, callbacks included.
type frameAcker interface {
	ack()
}

type manualTicker struct {
	ch      chan time.Time
	acks    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.once.Do(func() { close(t.stopped) }) }

func (t *manualTicker) ack() {
	select {
	case t.acks <- struct{}{}:
	case <-time.After(time.Second):
	}
}

func (t *manualTicker) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}
