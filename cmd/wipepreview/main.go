// Command wipepreview runs theme transitions against a live page in the
// shared headless browser and optionally writes the wipe as PNG frames.
//
// Usage:
//
//	wipepreview -url https://example.com                   # one toggle, best strategy
//	wipepreview -url https://example.com -toggles 2        # toggle there and back
//	wipepreview -url https://example.com -frames ./out     # also write composited frames
//	wipepreview -url ... -snapshot-url http://localhost:3000  # render through snapshotd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hazyhaar/snapwipe/browser"
	"github.com/hazyhaar/snapwipe/horosafe"
	"github.com/hazyhaar/snapwipe/snapshot"
	"github.com/hazyhaar/snapwipe/transition"
	"github.com/hazyhaar/snapwipe/transition/rodpage"
	"github.com/hazyhaar/snapwipe/wipe"
)

type options struct {
	url         string
	toggles     int
	priority    []transition.Strategy
	twoShot     bool
	raster      string
	snapshotURL string
	framesDir   string
	frameCount  int
	navTimeout  time.Duration
}

func main() {
	configPath := flag.String("config", "", "path to snapshotd.yaml config file (browser and render sections)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	pageURL := flag.String("url", "", "page to open (required)")
	toggles := flag.Int("toggles", 1, "number of consecutive toggles")
	priority := flag.String("priority", "", "comma-separated strategy priority (default view-transition-wipe,dom-snapshot,view-transition-cross-fade)")
	twoShot := flag.Bool("two-shot", false, "capture an after image and wipe between two snapshots")
	raster := flag.String("raster", "serialized", "rasterizer: serialized, screenshot or none")
	snapshotURL := flag.String("snapshot-url", "", "render serialized snapshots through a snapshotd at this base URL")
	framesDir := flag.String("frames", "", "write composited wipe frames to this directory")
	frameCount := flag.Int("frame-count", 12, "number of frames written with -frames")
	navTimeout := flag.Duration("nav-timeout", 30*time.Second, "page load timeout")
	flag.Parse()

	if *pageURL == "" {
		fmt.Fprintln(os.Stderr, "wipepreview: -url is required")
		os.Exit(2)
	}

	cfg, err := snapshot.LoadConfigFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wipepreview: load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "wipepreview: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	opts := options{
		url:         *pageURL,
		toggles:     *toggles,
		twoShot:     *twoShot,
		raster:      *raster,
		snapshotURL: *snapshotURL,
		framesDir:   *framesDir,
		frameCount:  *frameCount,
		navTimeout:  *navTimeout,
	}
	if *priority != "" {
		for _, name := range strings.Split(*priority, ",") {
			st, err := transition.ParseStrategy(strings.TrimSpace(name))
			if err != nil {
				fmt.Fprintf(os.Stderr, "wipepreview: %v\n", err)
				os.Exit(2)
			}
			opts.priority = append(opts.priority, st)
		}
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, opts); err != nil {
		logger.Error("wipepreview: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *snapshot.Config, opts options) error {
	mgr := snapshot.NewBrowserManager(cfg.Browser, logger)
	defer mgr.Close()

	tab, err := mgr.OpenTab(ctx)
	if err != nil {
		return err
	}
	defer tab.Close()
	if err := tab.Navigate(ctx, opts.url, opts.navTimeout, logger); err != nil {
		return err
	}
	page := rodpage.New(tab.Page)

	rasterizer, err := newRasterizer(page, mgr, cfg, opts, logger)
	if err != nil {
		return err
	}

	var orchOpts []transition.Option
	orchOpts = append(orchOpts, transition.WithViewTransitioner(page))
	if rasterizer != nil {
		orchOpts = append(orchOpts, transition.WithRasterizer(rasterizer))
	}
	orch := transition.New(page, page, transition.Config{
		Priority: opts.priority,
		TwoShot:  opts.twoShot,
		Logger:   logger,
	}, orchOpts...)

	if opts.framesDir != "" {
		if rasterizer == nil {
			return errors.New("wipepreview: -frames needs a rasterizer")
		}
		if err := writeFrames(ctx, logger, page, rasterizer, opts); err != nil {
			return err
		}
	}

	for i := range opts.toggles {
		from, err := page.Resolved(ctx)
		if err != nil {
			return err
		}
		start := time.Now()
		if err := orch.Toggle(ctx); err != nil {
			return err
		}
		var info transition.SessionInfo
		if cur, ok := orch.Current(); ok {
			info = cur
		}
		if err := orch.Wait(ctx); err != nil {
			return err
		}
		to, err := page.Resolved(ctx)
		if err != nil {
			return err
		}
		logger.Info("wipepreview: toggled",
			"n", i+1,
			"from", from,
			"to", to,
			"session", info.ID,
			"strategy", info.Strategy,
			"direction", info.Direction,
			"duration", time.Since(start),
		)
	}
	return nil
}

// newRasterizer builds the rasterizer selected by -raster. Serialized
// snapshots render in-process unless -snapshot-url points at a snapshotd.
func newRasterizer(page *rodpage.Page, mgr *browser.Manager, cfg *snapshot.Config, opts options, logger *slog.Logger) (transition.Rasterizer, error) {
	switch opts.raster {
	case "none":
		return nil, nil
	case "screenshot":
		return rodpage.NewScreenshot(page), nil
	case "serialized":
		if opts.snapshotURL != "" {
			return rodpage.NewSerialized(page, nil, snapshot.NewClient(opts.snapshotURL, nil)), nil
		}
		svc := snapshot.NewWithBrowser(mgr, cfg.Render, snapshot.WithLogger(logger))
		return rodpage.NewSerialized(page, nil, svc), nil
	}
	return nil, fmt.Errorf("wipepreview: unknown rasterizer %q", opts.raster)
}

// writeFrames captures the page under both themes and writes frameCount
// composited wipe frames from 0 to 100 percent.
func writeFrames(ctx context.Context, logger *slog.Logger, page *rodpage.Page, r transition.Rasterizer, opts options) error {
	current, err := page.Resolved(ctx)
	if err != nil {
		return err
	}
	before, after, err := capturePair(ctx, page, r, current)
	if err != nil {
		return fmt.Errorf("wipepreview: capture frames: %w", err)
	}
	beforeImg, err := before.Decode()
	if err != nil {
		return err
	}
	afterImg, err := after.Decode()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.framesDir, 0o755); err != nil {
		return fmt.Errorf("wipepreview: frames dir: %w", err)
	}
	n := max(opts.frameCount, 2)
	size := beforeImg.Bounds().Size()
	dir := transition.DirectionFor(current)
	for i := range n {
		f := wipe.NewFrame(dir, 100*float64(i)/float64(n-1))
		path, err := horosafe.SafePath(opts.framesDir, fmt.Sprintf("frame-%03d.png", i))
		if err != nil {
			return err
		}
		if err := writePNG(path, wipe.Composite(beforeImg, afterImg, f, size)); err != nil {
			return err
		}
	}
	logger.Info("wipepreview: frames written", "dir", opts.framesDir, "count", n, "direction", dir)
	return nil
}

// capturePair renders the page under current and its opposite. A plain
// rasterizer needs the live theme flipped between the two captures.
func capturePair(ctx context.Context, page *rodpage.Page, r transition.Rasterizer, current transition.Theme) (transition.Image, transition.Image, error) {
	if pr, ok := r.(transition.PairRasterizer); ok {
		return pr.RasterizePair(ctx, current, current.Opposite())
	}
	before, err := r.Rasterize(ctx)
	if err != nil {
		return transition.Image{}, transition.Image{}, err
	}
	if err := page.SetTheme(ctx, current.Opposite()); err != nil {
		return transition.Image{}, transition.Image{}, err
	}
	after, err := r.Rasterize(ctx)
	if rerr := page.SetTheme(context.WithoutCancel(ctx), current); err == nil {
		err = rerr
	}
	if err != nil {
		return transition.Image{}, transition.Image{}, err
	}
	return before, after, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("wipepreview: encode %s: %w", path, err)
	}
	return f.Close()
}
