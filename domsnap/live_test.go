package domsnap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/snapwipe/browser"
)

const statefulPage = `<!DOCTYPE html>
<html>
<head><style>
body { margin: 0; }
#btn { background-color: blue; padding: 40px; }
#btn:hover { background-color: red; }
</style></head>
<body>
<canvas id="c" width="20" height="20"></canvas>
<input id="name" type="text">
<input id="agree" type="checkbox">
<select id="plan"><option>One</option><option>Two</option></select>
<p id="para">Selected words</p>
<div id="btn">hover me</div>
</body>
</html>`

// newStatefulPage opens statefulPage in a real browser and puts it in the
// state only a running page has: pixels on the canvas, typed and picked
// form values, a text selection and a hovered element. Skipped without a
// local Chrome.
func newStatefulPage(t *testing.T) *rod.Page {
	t.Helper()
	exe := os.Getenv("CHROME_EXECUTABLE_PATH")
	if testing.Short() || exe == "" {
		t.Skip("set CHROME_EXECUTABLE_PATH to run browser tests")
	}
	mgr := browser.NewManager(browser.Config{
		ExecutablePath: exe,
		DisableBundle:  true,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { mgr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	tab, err := mgr.OpenTab(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tab.Close() })
	page := tab.Page.Context(ctx)
	if err := page.SetDocumentContent(statefulPage); err != nil {
		t.Fatal(err)
	}

	if _, err := page.Eval(`() => {
		const g = document.getElementById('c').getContext('2d');
		g.fillStyle = '#f00';
		g.fillRect(0, 0, 20, 20);
	}`); err != nil {
		t.Fatal(err)
	}
	el := func(sel string) *rod.Element {
		e, err := page.Element(sel)
		if err != nil {
			t.Fatal(err)
		}
		return e
	}
	if err := el("#name").Input("hello"); err != nil {
		t.Fatal(err)
	}
	if err := el("#agree").Click("left", 1); err != nil {
		t.Fatal(err)
	}
	if err := el("#plan").Select([]string{"Two"}, true, rod.SelectorTypeText); err != nil {
		t.Fatal(err)
	}
	if _, err := page.Eval(`() => {
		const r = document.createRange();
		r.selectNodeContents(document.getElementById('para'));
		const s = window.getSelection();
		s.removeAllRanges();
		s.addRange(r);
	}`); err != nil {
		t.Fatal(err)
	}
	if err := el("#btn").Hover(); err != nil {
		t.Fatal(err)
	}
	return page
}

// runExtractor evaluates one extractor over the whole document and maps
// each patch to the id attribute of the element it stamped.
func runExtractor(t *testing.T, live RodLive, ex Extractor) map[string]Patch {
	t.Helper()
	ctx := context.Background()
	var patches []Patch
	if err := live.Eval(ctx, ex.Script(), &patches, "", StampAttr, IgnoreAttr); err != nil {
		t.Fatalf("%s: %v", ex.Name(), err)
	}
	out := make(map[string]Patch, len(patches))
	for _, p := range patches {
		var key string
		if err := live.Eval(ctx, `(attr, id) => {
			const el = document.querySelector('[' + attr + '="' + id + '"]');
			return el ? (el.id || el.tagName.toLowerCase() + ':' + el.textContent) : '';
		}`, &key, StampAttr, p.ID); err != nil {
			t.Fatal(err)
		}
		out[key] = p
	}
	return out
}

// WHAT: every built-in extractor run against a page in a live browser.
// WHY: the scripts only execute in a real page; each must report the state
// it exists for in the patch shape the serializer applies.
func TestExtractors_LivePage(t *testing.T) {
	page := newStatefulPage(t)
	live := RodLive{Page: page}

	t.Run("canvas", func(t *testing.T) {
		got := runExtractor(t, live, CanvasExtractor{})
		p, ok := got["c"]
		if !ok || p.Replace == nil {
			t.Fatalf("no replacement for the canvas: %+v", got)
		}
		if p.Replace.Tag != "img" || !strings.HasPrefix(p.Replace.Attrs["src"], "data:image/png;base64,") {
			t.Fatalf("replacement = %+v", p.Replace)
		}
		if p.Replace.Attrs["id"] != "c" || p.Replace.Style["width"] != "20px" {
			t.Fatalf("canvas identity or size lost: %+v", p.Replace)
		}
	})

	t.Run("form", func(t *testing.T) {
		got := runExtractor(t, live, FormExtractor{})
		if v := got["name"].Attrs["value"]; v != "hello" {
			t.Errorf("typed value = %q, want hello", v)
		}
		if _, ok := got["agree"].Attrs["checked"]; !ok {
			t.Errorf("checkbox not reported checked: %+v", got["agree"])
		}
		if _, ok := got["option:Two"].Attrs["selected"]; !ok {
			t.Errorf("picked option not reported selected: %+v", got["option:Two"])
		}
		if rm := got["option:One"].Remove; len(rm) != 1 || rm[0] != "selected" {
			t.Errorf("unpicked option = %+v, want selected removed", got["option:One"])
		}
	})

	t.Run("hover", func(t *testing.T) {
		got := runExtractor(t, live, HoverExtractor{})
		p, ok := got["btn"]
		if !ok {
			t.Fatalf("hovered element not reported: %+v", got)
		}
		if bg := p.Style["background-color"]; bg != "rgb(255, 0, 0)" {
			t.Fatalf("frozen background = %q, want the hover colour", bg)
		}
	})

	t.Run("selection", func(t *testing.T) {
		var patches []Patch
		if err := live.Eval(context.Background(), SelectionExtractor{}.Script(), &patches, "", StampAttr, IgnoreAttr); err != nil {
			t.Fatal(err)
		}
		if len(patches) != 1 || len(patches[0].Append) == 0 {
			t.Fatalf("patches = %+v, want one host with overlays", patches)
		}
		for _, r := range patches[0].Append {
			if r.Style["background"] != SelectionTint || r.Style["position"] != "absolute" {
				t.Fatalf("overlay = %+v", r)
			}
		}
		if patches[0].Style["position"] != "relative" {
			t.Fatalf("static body not made a containing block: %+v", patches[0].Style)
		}
	})
}

// WHAT: a full page serialization of the same live page.
// WHY: the recovered state must land in the static HTML and the stamps
// must be gone from the live document afterwards.
func TestPage_LiveStateInOutput(t *testing.T) {
	page := newStatefulPage(t)
	live := RodLive{Page: page}
	s := New()
	s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	out, err := s.Page(context.Background(), live, PageOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`src="data:image/png;base64,`,
		`value="hello"`,
		`checked=""`,
		`<option selected="">Two</option>`,
		SelectionTint,
		"background-color: rgb(255, 0, 0);",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Contains(out, "<canvas") || strings.Contains(out, StampAttr) {
		t.Error("canvas or stamps left in the output")
	}

	var stamped int
	if err := live.Eval(context.Background(), `(attr) => document.querySelectorAll('[' + attr + ']').length`, &stamped, StampAttr); err != nil {
		t.Fatal(err)
	}
	if stamped != 0 {
		t.Fatalf("%d live elements still stamped", stamped)
	}
}
