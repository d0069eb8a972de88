// Package snapshot renders static HTML snapshots into viewport PNGs in a
// shared headless browser.
//
// A request is a batch of independent tasks. Each task gets its own page,
// all tasks run concurrently, and the result keeps input order. Pages are
// per-request; the browser outlives every request.
package snapshot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/snapwipe/browser"
	"github.com/hazyhaar/snapwipe/horosafe"
	"github.com/hazyhaar/snapwipe/kit"
	"github.com/hazyhaar/snapwipe/observability"
	"github.com/hazyhaar/snapwipe/snapshot/internal/render"
)

// Service renders batches of tasks.
type Service struct {
	opener  render.Opener
	cfg     RenderConfig
	logger  *slog.Logger
	metrics *observability.MetricsManager
	batches *observability.BatchLog
	policy  *bluemonday.Policy
	// validateBase checks a <base href> when the guard is enabled.
	validateBase func(string) error
}

// Option wires an optional collaborator into a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records render latencies and failures.
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(s *Service) { s.metrics = mm }
}

// WithBatchLog records every batch outcome.
func WithBatchLog(l *observability.BatchLog) Option {
	return func(s *Service) { s.batches = l }
}

// NewWithBrowser returns a Service rendering in pages of m.
func NewWithBrowser(m *browser.Manager, cfg RenderConfig, opts ...Option) *Service {
	return newService(render.NewBrowser(m, cfg.Settle), cfg, opts...)
}

func newService(opener render.Opener, cfg RenderConfig, opts ...Option) *Service {
	s := &Service{
		opener:       opener,
		cfg:          cfg,
		logger:       slog.Default(),
		validateBase: horosafe.ValidateURL,
	}
	if cfg.Sanitize {
		s.policy = snapshotPolicy()
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Warm makes sure the shared browser is up.
func (s *Service) Warm(ctx context.Context) error {
	if err := s.opener.Warm(ctx); err != nil {
		return fmt.Errorf("snapshot: warm up: %w", err)
	}
	return nil
}

// Render returns one PNG data URL per task, in task order. Any task
// failure fails the whole batch.
func (s *Service) Render(ctx context.Context, tasks []Task) ([]string, error) {
	jobs, err := s.prepare(tasks)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pages := make([]render.Page, len(jobs))
	out := make([]string, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		g.Go(func() error {
			tctx := gctx
			if s.cfg.TaskTimeout > 0 {
				var cancel context.CancelFunc
				tctx, cancel = context.WithTimeout(gctx, s.cfg.TaskTimeout)
				defer cancel()
			}
			page, err := s.opener.Open(tctx)
			if err != nil {
				return fmt.Errorf("snapshot: task %d: open page: %w", i, err)
			}
			pages[i] = page

			taskStart := time.Now()
			png, err := page.Render(tctx, job)
			if err != nil {
				return fmt.Errorf("snapshot: task %d: %w", i, err)
			}
			s.recordDuration(observability.MetricRenderDurationMs, time.Since(taskStart), jobLabels(job))
			out[i] = dataURLHead + base64.StdEncoding.EncodeToString(png)
			return nil
		})
	}
	err = g.Wait()
	s.closePages(pages)

	if s.metrics != nil {
		s.metrics.RecordDuration(observability.MetricBatchDurationMs, time.Since(start), nil)
		s.metrics.RecordCount(observability.MetricBatchTasks, len(jobs), nil)
		if err != nil {
			s.metrics.RecordCount(observability.MetricRenderFailures, 1, nil)
		}
	}
	if err != nil {
		s.logger.Error("snapshot: render failed", "tasks", len(jobs), "error", err,
			"trace_id", kit.TraceID(ctx))
		return nil, err
	}
	s.logger.Debug("snapshot: rendered", "tasks", len(jobs), "duration", time.Since(start))
	return out, nil
}

// prepare validates the batch and turns every task into a render job.
func (s *Service) prepare(tasks []Task) ([]render.Job, error) {
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	if s.cfg.MaxTasks > 0 && len(tasks) > s.cfg.MaxTasks {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyTasks, len(tasks), s.cfg.MaxTasks)
	}
	jobs := make([]render.Job, len(tasks))
	for i, t := range tasks {
		if strings.TrimSpace(t.HTML) == "" {
			return nil, fmt.Errorf("%w: task %d", ErrNoHTML, i)
		}
		t = t.Clamp()
		info := inspect(t.HTML)
		if s.cfg.GuardBaseHref {
			for _, href := range info.BaseHrefs {
				if err := s.validateBase(href); err != nil {
					return nil, fmt.Errorf("%w: task %d: %s: %w", ErrUnsafeBase, i, href, err)
				}
			}
		}
		doc := t.HTML
		if s.policy != nil {
			doc = s.policy.Sanitize(doc)
		}
		jobs[i] = render.Job{
			HTML:    doc,
			Width:   t.Width,
			Height:  t.Height,
			Scale:   t.DevicePixelRatio,
			ScrollX: info.ScrollX,
			ScrollY: info.ScrollY,
		}
	}
	return jobs, nil
}

// closePages closes every page that was opened. Errors meaning the page or
// the browser already went away are expected after a failure and dropped.
func (s *Service) closePages(pages []render.Page) {
	for i, p := range pages {
		if p == nil {
			continue
		}
		err := p.Close()
		if err == nil || browser.IsGone(err) || errors.Is(err, context.Canceled) {
			continue
		}
		s.logger.Warn("snapshot: close page", "task", i, "error", err)
		if s.metrics != nil {
			s.metrics.RecordCount(observability.MetricPageCloseErrors, 1, nil)
		}
	}
}

func (s *Service) recordDuration(name string, d time.Duration, labels map[string]string) {
	if s.metrics != nil {
		s.metrics.RecordDuration(name, d, labels)
	}
}

func jobLabels(j render.Job) map[string]string {
	return map[string]string{"size": fmt.Sprintf("%dx%d@%g", j.Width, j.Height, j.Scale)}
}
