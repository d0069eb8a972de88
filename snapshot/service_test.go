package snapshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hazyhaar/snapwipe/dbopen"
	"github.com/hazyhaar/snapwipe/kit"
	"github.com/hazyhaar/snapwipe/observability"
	"github.com/hazyhaar/snapwipe/snapshot/internal/render"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePage renders a job as its HTML bytes, so tests can check which
// document ended up in which slot.
type fakePage struct {
	o      *fakeOpener
	job    render.Job
	closed bool
}

func (p *fakePage) Render(ctx context.Context, job render.Job) ([]byte, error) {
	p.job = job
	if p.o.render != nil {
		return p.o.render(ctx, job)
	}
	return []byte(job.HTML), nil
}

func (p *fakePage) Close() error {
	p.o.mu.Lock()
	defer p.o.mu.Unlock()
	p.closed = true
	return p.o.closeErr
}

type fakeOpener struct {
	mu       sync.Mutex
	pages    []*fakePage
	warmErr  error
	openErr  error
	closeErr error
	warms    int
	render   func(ctx context.Context, job render.Job) ([]byte, error)
}

func (o *fakeOpener) Open(context.Context) (render.Page, error) {
	if o.openErr != nil {
		return nil, o.openErr
	}
	p := &fakePage{o: o}
	o.mu.Lock()
	o.pages = append(o.pages, p)
	o.mu.Unlock()
	return p, nil
}

func (o *fakeOpener) Warm(context.Context) error {
	o.mu.Lock()
	o.warms++
	o.mu.Unlock()
	return o.warmErr
}

func (o *fakeOpener) allClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.pages {
		if !p.closed {
			return false
		}
	}
	return true
}

func testConfig() RenderConfig {
	cfg := DefaultConfig().Render
	cfg.Settle = 0
	return cfg
}

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	if buf == nil {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(buf, nil))
}

func decodeDataURL(t *testing.T, s string) string {
	t.Helper()
	payload, ok := strings.CutPrefix(s, dataURLHead)
	if !ok {
		t.Fatalf("not a PNG data URL: %.40q", s)
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestTaskClamp(t *testing.T) {
	tests := []struct {
		in, want Task
	}{
		{Task{Width: 50, Height: 5000, DevicePixelRatio: 10}, Task{Width: 100, Height: 2160, DevicePixelRatio: 3}},
		{Task{}, Task{Width: 1280, Height: 800, DevicePixelRatio: 1}},
		{Task{Width: 5000, Height: 50, DevicePixelRatio: 0.5}, Task{Width: 3840, Height: 100, DevicePixelRatio: 1}},
		{Task{Width: 390, Height: 844, DevicePixelRatio: 2}, Task{Width: 390, Height: 844, DevicePixelRatio: 2}},
		{Task{Width: -1, Height: -1, DevicePixelRatio: -2}, Task{Width: 1280, Height: 800, DevicePixelRatio: 1}},
	}
	for _, tt := range tests {
		if got := tt.in.Clamp(); got != tt.want {
			t.Errorf("Clamp(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

// WHAT: tasks finishing in reverse order.
// WHY: results must follow input order, not completion order.
func TestRender_PreservesOrder(t *testing.T) {
	o := &fakeOpener{render: func(_ context.Context, job render.Job) ([]byte, error) {
		// Earlier tasks sleep longer.
		n := strings.Count(job.HTML, "x")
		time.Sleep(time.Duration(5-n) * 10 * time.Millisecond)
		return []byte(job.HTML), nil
	}}
	s := newService(o, testConfig(), WithLogger(quietLogger(nil)))

	tasks := []Task{{HTML: "<p>x"}, {HTML: "<p>xx"}, {HTML: "<p>xxx"}, {HTML: "<p>xxxx"}}
	out, err := s.Render(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}
	for i, task := range tasks {
		if got := decodeDataURL(t, out[i]); got != task.HTML {
			t.Fatalf("slot %d: got %q, want %q", i, got, task.HTML)
		}
	}
	if len(o.pages) != len(tasks) || !o.allClosed() {
		t.Fatalf("pages=%d allClosed=%v", len(o.pages), o.allClosed())
	}
}

// WHAT: tasks run at the same time.
// WHY: a batch must not be serialized page by page.
func TestRender_Concurrent(t *testing.T) {
	const n = 4
	var wg sync.WaitGroup
	wg.Add(n)
	o := &fakeOpener{render: func(ctx context.Context, job render.Job) ([]byte, error) {
		wg.Done()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return []byte("ok"), nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("tasks were serialized")
		}
	}}
	s := newService(o, testConfig(), WithLogger(quietLogger(nil)))
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = Task{HTML: "<p>hi"}
	}
	if _, err := s.Render(context.Background(), tasks); err != nil {
		t.Fatal(err)
	}
}

// WHAT: one task fails.
// WHY: the batch fails as a whole and every opened page is still closed.
func TestRender_FailureClosesPages(t *testing.T) {
	o := &fakeOpener{render: func(ctx context.Context, job render.Job) ([]byte, error) {
		if job.HTML == "bad" {
			return nil, errors.New("screenshot: boom")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s := newService(o, testConfig(), WithLogger(quietLogger(nil)))
	_, err := s.Render(context.Background(), []Task{{HTML: "good"}, {HTML: "bad"}, {HTML: "good"}})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("got %v", err)
	}
	if !o.allClosed() {
		t.Fatal("pages left open after failure")
	}
}

// WHAT: closing a page whose browser is gone.
// WHY: such errors are expected and must not be reported; others are.
func TestRender_CloseErrors(t *testing.T) {
	var buf bytes.Buffer
	o := &fakeOpener{closeErr: errors.New("{-32000 Target closed }")}
	s := newService(o, testConfig(), WithLogger(quietLogger(&buf)))
	if _, err := s.Render(context.Background(), []Task{{HTML: "a"}}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "close page") {
		t.Fatalf("gone-page close error was logged: %s", buf.String())
	}

	o.closeErr = errors.New("protocol error: invalid session")
	if _, err := s.Render(context.Background(), []Task{{HTML: "a"}}); err != nil {
		t.Fatalf("close error must not fail the render: %v", err)
	}
	if !strings.Contains(buf.String(), "close page") {
		t.Fatal("unexpected close error was not logged")
	}
}

func TestRender_OpenFailure(t *testing.T) {
	o := &fakeOpener{openErr: errors.New("browser: no launch strategy succeeded")}
	s := newService(o, testConfig(), WithLogger(quietLogger(nil)))
	if _, err := s.Render(context.Background(), []Task{{HTML: "a"}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRender_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTasks = 2
	s := newService(&fakeOpener{}, cfg, WithLogger(quietLogger(nil)))
	ctx := context.Background()

	if _, err := s.Render(ctx, nil); !errors.Is(err, ErrNoTasks) {
		t.Errorf("empty batch: got %v", err)
	}
	if _, err := s.Render(ctx, []Task{{HTML: "a"}, {HTML: "  "}}); !errors.Is(err, ErrNoHTML) {
		t.Errorf("blank html: got %v", err)
	}
	if _, err := s.Render(ctx, []Task{{HTML: "a"}, {HTML: "b"}, {HTML: "c"}}); !errors.Is(err, ErrTooManyTasks) {
		t.Errorf("oversized batch: got %v", err)
	}
}

// WHAT: a document serialized at a scroll offset with forced dimensions.
// WHY: the render job must carry the clamped viewport and the offset.
func TestPrepare_Job(t *testing.T) {
	s := newService(&fakeOpener{}, testConfig())
	doc := `<!DOCTYPE html><html class="dark" data-snapshot-scroll-x="0" data-snapshot-scroll-y="640.5"><head></head><body>hi</body></html>`
	jobs, err := s.prepare([]Task{{HTML: doc, Width: 50, Height: 5000, DevicePixelRatio: 10}})
	if err != nil {
		t.Fatal(err)
	}
	j := jobs[0]
	if j.Width != 100 || j.Height != 2160 || j.Scale != 3 {
		t.Fatalf("viewport: %+v", j)
	}
	if j.ScrollX != 0 || j.ScrollY != 640.5 {
		t.Fatalf("scroll: %v,%v", j.ScrollX, j.ScrollY)
	}
	if j.HTML != doc {
		t.Fatal("document changed without sanitizing")
	}
}

func TestPrepare_BaseGuard(t *testing.T) {
	cfg := testConfig()
	cfg.GuardBaseHref = true
	s := newService(&fakeOpener{}, cfg)
	s.validateBase = func(href string) error {
		if strings.Contains(href, "169.254") {
			return errors.New("private")
		}
		return nil
	}
	ok := `<html><head><base href="https://example.com/"></head><body></body></html>`
	if _, err := s.prepare([]Task{{HTML: ok}}); err != nil {
		t.Fatalf("public base rejected: %v", err)
	}
	bad := `<html><head><base href="http://169.254.169.254/"></head><body></body></html>`
	if _, err := s.prepare([]Task{{HTML: bad}}); !errors.Is(err, ErrUnsafeBase) {
		t.Fatalf("got %v, want ErrUnsafeBase", err)
	}
}

// WHAT: sanitizing a snapshot that carries scripts and handlers.
// WHY: scripts must go while the styling that makes it look right stays.
func TestPrepare_Sanitize(t *testing.T) {
	cfg := testConfig()
	cfg.Sanitize = true
	s := newService(&fakeOpener{}, cfg)
	doc := `<html data-snapshot-scroll-y="10"><head><style>.card{color:red}</style></head>` +
		`<body><div class="card" style="opacity:0.5" onclick="steal()">hi</div>` +
		`<script>alert(1)</script><iframe src="https://evil.example"></iframe>` +
		`<img src="data:image/png;base64,iVBORw0KGgo="></body></html>`
	jobs, err := s.prepare([]Task{{HTML: doc}})
	if err != nil {
		t.Fatal(err)
	}
	out := jobs[0].HTML
	for _, gone := range []string{"<script", "alert(1)", "onclick", "<iframe"} {
		if strings.Contains(out, gone) {
			t.Errorf("sanitized output still contains %q:\n%s", gone, out)
		}
	}
	for _, kept := range []string{".card{color:red}", `class="card"`, "opacity:0.5", "data:image/png", ScrollYAttr} {
		if !strings.Contains(out, kept) {
			t.Errorf("sanitized output lost %q:\n%s", kept, out)
		}
	}
	if jobs[0].ScrollY != 10 {
		t.Fatalf("scroll = %v", jobs[0].ScrollY)
	}
}

func TestInspect(t *testing.T) {
	info := inspect(`<html data-snapshot-scroll-x="12" data-snapshot-scroll-y="nope"><head><base href="/assets/"><base href=""></head><body><base href="late"></body></html>`)
	if info.ScrollX != 12 || info.ScrollY != 0 {
		t.Fatalf("scroll: %+v", info)
	}
	if len(info.BaseHrefs) != 1 || info.BaseHrefs[0] != "/assets/" {
		t.Fatalf("base hrefs: %v", info.BaseHrefs)
	}
}

// WHAT: a render through the shared endpoint with a batch log wired.
// WHY: every batch, accepted or rejected, leaves one record with its
// transport and trace.
func TestEndpoint_BatchLog(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema))
	bl := observability.NewBatchLog(db, 10)
	s := newService(&fakeOpener{}, testConfig(), WithLogger(quietLogger(nil)), WithBatchLog(bl))

	ctx := kit.WithTraceID(kit.WithTransport(context.Background(), kit.TransportMCP), "trc_1")
	resp, err := s.Endpoint()(ctx, &RenderRequest{Tasks: []Task{{HTML: "a"}}, Legacy: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := resp.(*SingleResponse); !ok {
		t.Fatalf("legacy request answered with %T", resp)
	}
	if _, err := s.Endpoint()(ctx, &RenderRequest{}); !errors.Is(err, ErrNoTasks) {
		t.Fatalf("got %v", err)
	}
	bl.Close()

	recs, err := bl.Query(context.Background(), observability.BatchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	statuses := map[string]bool{}
	for _, r := range recs {
		statuses[r.Status] = true
		if r.Transport != "mcp" || r.TraceID != "trc_1" {
			t.Fatalf("record: %+v", r)
		}
	}
	if !statuses[observability.StatusSuccess] || !statuses[observability.StatusRejected] {
		t.Fatalf("statuses: %v", statuses)
	}
}

func TestRender_Metrics(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema))
	mm := observability.NewMetricsManager(db, 100, time.Hour)
	s := newService(&fakeOpener{}, testConfig(), WithLogger(quietLogger(nil)), WithMetrics(mm))
	if _, err := s.Render(context.Background(), []Task{{HTML: "a", Width: 390, Height: 844, DevicePixelRatio: 2}}); err != nil {
		t.Fatal(err)
	}
	mm.Close()

	got, err := mm.Query(context.Background(), observability.MetricRenderDurationMs, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Labels["size"] != "390x844@2" {
		t.Fatalf("render metrics: %+v", got)
	}
}
