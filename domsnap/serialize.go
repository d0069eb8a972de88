package domsnap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNotFound is returned when the selector matches nothing.
var ErrNotFound = errors.New("domsnap: element not found")

// Serializer composes extractors into a snapshot.
type Serializer struct {
	Extractors []Extractor
	Logger     *slog.Logger
}

// New returns a Serializer running extractors, or every built-in one when
// none is given.
func New(extractors ...Extractor) *Serializer {
	if len(extractors) == 0 {
		extractors = DefaultExtractors()
	}
	return &Serializer{Extractors: extractors, Logger: slog.Default()}
}

// PageOptions tunes Page.
type PageOptions struct {
	// ForceTheme renders the snapshot under "light" or "dark" without
	// touching the live document. Empty keeps the live theme.
	ForceTheme string
	// BaseHref overrides the injected <base>. Empty uses the live
	// document's base URI.
	BaseHref string
	// KeepScripts keeps <script> elements in the output.
	KeepScripts bool
}

// pageState is what the capture script reads from the live page.
type pageState struct {
	HTML    string  `json:"html"`
	BaseURI string  `json:"baseURI"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
}

const captureElementScript = `(sel) => {
	const el = document.querySelector(sel);
	return el ? el.outerHTML : null;
}`

const capturePageScript = `() => ({
	html: document.documentElement.outerHTML,
	baseURI: document.baseURI,
	scrollX: window.scrollX,
	scrollY: window.scrollY,
})`

const unstampScript = `(attr) => {
	for (const el of document.querySelectorAll('[' + attr + ']')) el.removeAttribute(attr);
}`

// Element returns the HTML of the first element matching selector with
// its live state applied.
func (s *Serializer) Element(ctx context.Context, live Live, selector string) (string, error) {
	if selector == "" {
		return "", fmt.Errorf("domsnap: empty selector")
	}
	patches := s.extract(ctx, live, selector)
	defer s.unstampLive(ctx, live)

	var outer *string
	if err := live.Eval(ctx, captureElementScript, &outer, selector); err != nil {
		return "", fmt.Errorf("domsnap: capture %s: %w", selector, err)
	}
	if outer == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, selector)
	}

	ctxNode := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(*outer), ctxNode)
	if err != nil {
		return "", fmt.Errorf("domsnap: parse: %w", err)
	}
	holder := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		holder.AppendChild(n)
	}
	s.apply(holder, patches)
	unstamp(holder)
	dropScripts(holder)

	var b strings.Builder
	for c := holder.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", fmt.Errorf("domsnap: render: %w", err)
		}
	}
	return b.String(), nil
}

// Page returns a full standalone document of the live page.
func (s *Serializer) Page(ctx context.Context, live Live, opts PageOptions) (string, error) {
	if opts.ForceTheme != "" && opts.ForceTheme != "light" && opts.ForceTheme != "dark" {
		return "", fmt.Errorf("domsnap: unknown theme %q", opts.ForceTheme)
	}
	patches := s.extract(ctx, live, "")
	defer s.unstampLive(ctx, live)

	var st pageState
	if err := live.Eval(ctx, capturePageScript, &st); err != nil {
		return "", fmt.Errorf("domsnap: capture page: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(st.HTML))
	if err != nil {
		return "", fmt.Errorf("domsnap: parse: %w", err)
	}
	s.apply(doc, patches)
	unstamp(doc)

	root := findElement(doc, atom.Html)
	head := findElement(doc, atom.Head)
	if root == nil || head == nil {
		return "", fmt.Errorf("domsnap: page has no document element")
	}
	if opts.ForceTheme != "" {
		setThemeClass(root, opts.ForceTheme)
		setAttr(root, "data-theme", opts.ForceTheme)
		setStyle(root, map[string]string{"color-scheme": opts.ForceTheme})
	}
	setAttr(root, ScrollXAttr, formatOffset(st.ScrollX))
	setAttr(root, ScrollYAttr, formatOffset(st.ScrollY))

	base := opts.BaseHref
	if base == "" {
		base = st.BaseURI
	}
	if base != "" {
		setBase(head, base)
	}
	hideIgnored(doc)
	if !opts.KeepScripts {
		dropScripts(doc)
	}
	if doc.FirstChild == nil || doc.FirstChild.Type != html.DoctypeNode {
		doc.InsertBefore(&html.Node{Type: html.DoctypeNode, Data: "html"}, doc.FirstChild)
	}

	var b strings.Builder
	if err := html.Render(&b, doc); err != nil {
		return "", fmt.Errorf("domsnap: render: %w", err)
	}
	return b.String(), nil
}

// extract runs every extractor. A failing extractor loses its state but
// does not fail the snapshot.
func (s *Serializer) extract(ctx context.Context, live Live, selector string) []Patch {
	var all []Patch
	for _, ex := range s.Extractors {
		var patches []Patch
		if err := live.Eval(ctx, ex.Script(), &patches, selector, StampAttr, IgnoreAttr); err != nil {
			s.logger().Warn("domsnap: extractor failed", "extractor", ex.Name(), "error", err)
			continue
		}
		all = append(all, patches...)
	}
	return all
}

func (s *Serializer) apply(root *html.Node, patches []Patch) {
	if len(patches) == 0 {
		return
	}
	byID := index(root)
	for _, p := range patches {
		n, ok := byID[p.ID]
		if !ok {
			continue
		}
		byID[p.ID] = p.Apply(n)
	}
}

// unstampLive removes stamps from the live page. It runs even when the
// request context is done.
func (s *Serializer) unstampLive(ctx context.Context, live Live) {
	if err := live.Eval(context.WithoutCancel(ctx), unstampScript, nil, StampAttr); err != nil {
		s.logger().Warn("domsnap: unstamp failed", "error", err)
	}
}

func (s *Serializer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func findElement(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}

// setBase makes href the only <base> of the document.
func setBase(head *html.Node, href string) {
	walk(head, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Base {
			n.Parent.RemoveChild(n)
			return false
		}
		return true
	})
	base := &html.Node{Type: html.ElementNode, Data: "base", DataAtom: atom.Base,
		Attr: []html.Attribute{{Key: "href", Val: href}}}
	head.InsertBefore(base, head.FirstChild)
}

// hideIgnored keeps ignored elements in the layout but invisible, so the
// snapshot matches the page geometry.
func hideIgnored(root *html.Node) {
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if _, ok := getAttr(n, IgnoreAttr); ok {
				setStyle(n, map[string]string{"visibility": "hidden"})
			}
		}
		return true
	})
}

func dropScripts(root *html.Node) {
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			n.Parent.RemoveChild(n)
			return false
		}
		return true
	})
}

func formatOffset(v float64) string {
	if v < 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
