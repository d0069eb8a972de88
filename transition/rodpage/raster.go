package rodpage

import (
	"context"
	"fmt"
	"math"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/snapwipe/domsnap"
	"github.com/hazyhaar/snapwipe/snapshot"
	"github.com/hazyhaar/snapwipe/transition"
)

const hideStyleID = "theme-wipe-hide-ignored"

// Screenshot rasterizes the live page with a CDP viewport screenshot,
// hiding ignored elements for the duration of the capture.
type Screenshot struct {
	p *Page
}

var _ transition.Rasterizer = (*Screenshot)(nil)

// NewScreenshot returns a rasterizer for p.
func NewScreenshot(p *Page) *Screenshot {
	return &Screenshot{p: p}
}

// Rasterize implements transition.Rasterizer.
func (s *Screenshot) Rasterize(ctx context.Context) (img transition.Image, err error) {
	if err := s.p.run(ctx, "hide ignored", `(id, attr) => {
		if (document.getElementById(id)) return;
		const style = document.createElement('style');
		style.id = id;
		style.textContent = '[' + attr + '] { visibility: hidden !important; }';
		document.head.appendChild(style);
	}`, hideStyleID, IgnoreAttr); err != nil {
		return transition.Image{}, err
	}
	defer func() {
		cerr := s.p.run(context.WithoutCancel(ctx), "show ignored", `(id) => {
			document.getElementById(id)?.remove();
		}`, hideStyleID)
		if err == nil {
			err = cerr
		}
	}()

	png, err := s.p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return transition.Image{}, fmt.Errorf("rodpage: screenshot: %w", err)
	}
	return transition.Image{MIME: "image/png", Data: png}, nil
}

// Renderer turns snapshot tasks into data URLs. Both *snapshot.Service and
// *snapshot.Client implement it.
type Renderer interface {
	Render(ctx context.Context, tasks []snapshot.Task) ([]string, error)
}

// Serialized rasterizes the page by serializing it with domsnap and having
// a Renderer draw the result. Because the theme can be forced during
// serialization, it renders before and after images without touching the
// live page.
type Serialized struct {
	p          *Page
	serializer *domsnap.Serializer
	renderer   Renderer
}

var _ transition.PairRasterizer = (*Serialized)(nil)

// NewSerialized returns a pair rasterizer for p. A nil serializer uses
// every built-in extractor.
func NewSerialized(p *Page, s *domsnap.Serializer, r Renderer) *Serialized {
	if s == nil {
		s = domsnap.New()
	}
	return &Serialized{p: p, serializer: s, renderer: r}
}

type viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	DPR    float64 `json:"dpr"`
}

func (r *Serialized) viewport(ctx context.Context) (snapshot.Task, error) {
	res, err := r.p.eval(ctx, `() => ({
		width: window.innerWidth,
		height: window.innerHeight,
		dpr: window.devicePixelRatio,
	})`)
	if err != nil {
		return snapshot.Task{}, fmt.Errorf("rodpage: viewport: %w", err)
	}
	var v viewport
	if err := res.Value.Unmarshal(&v); err != nil {
		return snapshot.Task{}, fmt.Errorf("rodpage: viewport: %w", err)
	}
	return snapshot.Task{
		Width:            int(math.Round(v.Width)),
		Height:           int(math.Round(v.Height)),
		DevicePixelRatio: v.DPR,
	}, nil
}

// Rasterize renders the page as it is.
func (r *Serialized) Rasterize(ctx context.Context) (transition.Image, error) {
	imgs, err := r.render(ctx, "")
	if err != nil {
		return transition.Image{}, err
	}
	return imgs[0], nil
}

// RasterizePair renders the page under from and under to in one batch.
func (r *Serialized) RasterizePair(ctx context.Context, from, to transition.Theme) (before, after transition.Image, err error) {
	imgs, err := r.render(ctx, string(from), string(to))
	if err != nil {
		return transition.Image{}, transition.Image{}, err
	}
	return imgs[0], imgs[1], nil
}

func (r *Serialized) render(ctx context.Context, themes ...string) ([]transition.Image, error) {
	vp, err := r.viewport(ctx)
	if err != nil {
		return nil, err
	}
	live := domsnap.RodLive{Page: r.p.page}
	tasks := make([]snapshot.Task, len(themes))
	for i, theme := range themes {
		doc, err := r.serializer.Page(ctx, live, domsnap.PageOptions{ForceTheme: theme})
		if err != nil {
			return nil, fmt.Errorf("rodpage: serialize: %w", err)
		}
		tasks[i] = vp
		tasks[i].HTML = doc
	}
	urls, err := r.renderer.Render(ctx, tasks)
	if err != nil {
		return nil, fmt.Errorf("rodpage: render snapshot: %w", err)
	}
	imgs := make([]transition.Image, len(urls))
	for i, u := range urls {
		if imgs[i], err = transition.ImageFromDataURL(u); err != nil {
			return nil, err
		}
	}
	return imgs, nil
}
