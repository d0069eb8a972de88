// Package browser owns the process-wide headless browser shared by every
// render request.
//
// The browser is created lazily, reused across requests and replaced after
// a disconnect. Concurrent callers arriving while no browser exists wait on
// a single initialization instead of launching one each.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"golang.org/x/sync/singleflight"
)

// ErrNoStrategy is returned when no launch strategy produced a browser.
var ErrNoStrategy = errors.New("browser: no launch strategy succeeded")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("browser: manager is closed")

// DefaultProbePaths are well-known Chrome and Chromium install locations
// checked in a local context.
var DefaultProbePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket endpoint of a hosted browser. Tried first.
	RemoteURL string

	// ExecutablePath is an explicit local browser binary.
	ExecutablePath string

	// Local enables probing ProbePaths for an installed browser.
	Local bool

	// ProbePaths overrides DefaultProbePaths.
	ProbePaths []string

	// BundleDir is where the managed browser download is cached. Empty uses
	// the launcher's default directory.
	BundleDir string

	// DisableBundle skips the managed download strategy.
	DisableBundle bool

	// LaunchTimeout bounds one initialization. Default: 60s.
	LaunchTimeout time.Duration

	// ResourceBlocking lists resource types blocked on new pages
	// (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// Stealth creates pages through go-rod/stealth.
	Stealth bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ProbePaths == nil {
		c.ProbePaths = DefaultProbePaths
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// strategy is one way of obtaining a DevTools control URL.
type strategy struct {
	name  string
	start func(ctx context.Context) (controlURL string, cleanup func(), err error)
}

// Manager hands out the shared browser.
type Manager struct {
	cfg   Config
	group singleflight.Group

	mu      sync.RWMutex
	browser *rod.Browser
	cleanup func()
	closed  bool
	inits   int

	// Replaceable in tests.
	strategies func() []strategy
	connect    func(ctx context.Context, controlURL string) (*rod.Browser, error)
	watch      func(b *rod.Browser) <-chan struct{}
	shutdown   func(b *rod.Browser) error
	stat       func(path string) error
}

// NewManager creates a Manager. No browser is started until the first call
// to Browser or Warm.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	m := &Manager{
		cfg:      cfg,
		connect:  connectRod,
		watch:    watchEvents,
		shutdown: (*rod.Browser).Close,
		stat: func(path string) error {
			_, err := os.Stat(path)
			return err
		},
	}
	m.strategies = m.defaultStrategies
	return m
}

// Browser returns a live browser, initializing one if needed.
func (m *Manager) Browser(ctx context.Context) (*rod.Browser, error) {
	m.mu.RLock()
	b, closed := m.browser, m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if b != nil {
		return b, nil
	}

	ch := m.group.DoChan("browser", func() (any, error) {
		return m.initialize(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rod.Browser), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Warm initializes the browser without returning it.
func (m *Manager) Warm(ctx context.Context) error {
	_, err := m.Browser(ctx)
	return err
}

// Inits counts completed initializations.
func (m *Manager) Inits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inits
}

// Close shuts the browser down. Only process shutdown calls this.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	b, cleanup := m.browser, m.cleanup
	m.browser, m.cleanup = nil, nil
	m.mu.Unlock()

	var err error
	if b != nil {
		if cerr := m.shutdown(b); cerr != nil {
			err = fmt.Errorf("browser: close: %w", cerr)
		}
	}
	if cleanup != nil {
		cleanup()
	}
	return err
}

func (m *Manager) initialize(ctx context.Context) (*rod.Browser, error) {
	m.mu.RLock()
	if m.browser != nil {
		b := m.browser
		m.mu.RUnlock()
		return b, nil
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.LaunchTimeout)
	defer cancel()

	log := m.cfg.Logger
	var errs []error
	for _, s := range m.strategies() {
		start := time.Now()
		u, cleanup, err := s.start(ctx)
		if err != nil {
			log.Warn("browser: strategy failed", "strategy", s.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		b, err := m.connect(ctx, u)
		if err != nil {
			if cleanup != nil {
				cleanup()
			}
			log.Warn("browser: connect failed", "strategy", s.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: connect: %w", s.name, err))
			continue
		}
		if err := m.adopt(b, cleanup); err != nil {
			return nil, err
		}
		log.Info("browser: ready", "strategy", s.name, "duration", time.Since(start))
		return b, nil
	}
	if len(errs) == 0 {
		return nil, ErrNoStrategy
	}
	return nil, fmt.Errorf("%w: %w", ErrNoStrategy, errors.Join(errs...))
}

// adopt caches b and drops it again when its connection goes away.
func (m *Manager) adopt(b *rod.Browser, cleanup func()) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.shutdown(b)
		if cleanup != nil {
			cleanup()
		}
		return ErrClosed
	}
	m.browser = b
	m.cleanup = cleanup
	m.inits++
	m.mu.Unlock()

	gone := m.watch(b)
	go func() {
		<-gone
		m.mu.Lock()
		if m.browser != b {
			m.mu.Unlock()
			return
		}
		m.browser = nil
		cleanup := m.cleanup
		m.cleanup = nil
		m.mu.Unlock()
		if cleanup != nil {
			cleanup()
		}
		m.cfg.Logger.Warn("browser: disconnected, will reinitialize on next use")
	}()
	return nil
}

func (m *Manager) defaultStrategies() []strategy {
	var out []strategy
	if m.cfg.RemoteURL != "" {
		out = append(out, strategy{name: "remote", start: m.startRemote})
	}
	if m.cfg.ExecutablePath != "" || m.cfg.Local {
		out = append(out, strategy{name: "local", start: m.startLocal})
	}
	if !m.cfg.DisableBundle {
		out = append(out, strategy{name: "bundled", start: m.startBundled})
	}
	return out
}

func (m *Manager) startRemote(context.Context) (string, func(), error) {
	m.cfg.Logger.Info("browser: connecting to remote", "url", m.cfg.RemoteURL)
	return m.cfg.RemoteURL, nil, nil
}

func (m *Manager) startLocal(context.Context) (string, func(), error) {
	bin, err := m.localBinary()
	if err != nil {
		return "", nil, err
	}
	m.cfg.Logger.Info("browser: launching local", "bin", bin)
	return launch(bin)
}

// localBinary returns the explicit executable, or the first probe path
// that exists when running locally.
func (m *Manager) localBinary() (string, error) {
	if p := m.cfg.ExecutablePath; p != "" {
		if err := m.stat(p); err != nil {
			return "", fmt.Errorf("executable %s: %w", p, err)
		}
		return p, nil
	}
	for _, p := range m.cfg.ProbePaths {
		if m.stat(p) == nil {
			return p, nil
		}
	}
	return "", errors.New("no browser found in probe paths")
}

func (m *Manager) startBundled(ctx context.Context) (string, func(), error) {
	bb := launcher.NewBrowser()
	bb.Context = ctx
	if m.cfg.BundleDir != "" {
		bb.RootDir = m.cfg.BundleDir
	}
	bin, err := bb.Get()
	if err != nil {
		return "", nil, fmt.Errorf("download: %w", err)
	}
	m.cfg.Logger.Info("browser: launching bundled", "bin", bin)
	return launch(bin)
}

// launch starts bin headless. The process outlives the init context and is
// killed by the returned cleanup.
func launch(bin string) (string, func(), error) {
	l := launcher.New().
		Bin(bin).
		Headless(true).
		Leakless(false).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("hide-scrollbars")
	u, err := l.Launch()
	if err != nil {
		return "", nil, fmt.Errorf("launch %s: %w", bin, err)
	}
	return u, l.Cleanup, nil
}

func connectRod(ctx context.Context, controlURL string) (*rod.Browser, error) {
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, err
	}
	if _, err := b.Context(ctx).Version(); err != nil {
		b.Close()
		return nil, fmt.Errorf("version probe: %w", err)
	}
	return b, nil
}

// watchEvents returns a channel closed when the browser's event stream
// ends, which happens when its DevTools connection drops.
func watchEvents(b *rod.Browser) <-chan struct{} {
	gone := make(chan struct{})
	events := b.Event()
	go func() {
		defer close(gone)
		for range events {
		}
	}()
	return gone
}
