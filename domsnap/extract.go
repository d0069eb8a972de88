package domsnap

// Extractor recovers one kind of live-only state. Script is a function
// expression called with (selector, stampAttr, ignoreAttr) that stamps the
// elements it reports on and returns their patches. An empty selector
// means the whole document.
type Extractor interface {
	Name() string
	Script() string
}

// SelectionTint is the fill of selection overlay rectangles.
const SelectionTint = "rgba(0,120,215,0.3)"

// HoverProps are the computed properties frozen onto the hovered element.
var HoverProps = []string{"background-color", "color", "border-color", "opacity", "transform"}

// DefaultExtractors returns every built-in extractor.
func DefaultExtractors() []Extractor {
	return []Extractor{CanvasExtractor{}, FormExtractor{}, HoverExtractor{}, SelectionExtractor{}}
}

// prelude defines stamp() and scope() for every extractor script.
const prelude = `
	const stamp = (el) => {
		let id = el.getAttribute(attr);
		if (!id) {
			window.__snapSeq = (window.__snapSeq || 0) + 1;
			id = 's' + window.__snapSeq;
			el.setAttribute(attr, id);
		}
		return id;
	};
	const root = sel ? document.querySelector(sel) : document.documentElement;
	if (!root) return [];
	const scope = (q) => [...(root.matches(q) ? [root] : []), ...root.querySelectorAll(q)];
`

func script(body string) string {
	return "(sel, attr, ignore) => {" + prelude + body + "}"
}

// CanvasExtractor replaces each canvas with an image of its pixels, sized
// as laid out. Tainted canvases are left alone.
type CanvasExtractor struct{}

func (CanvasExtractor) Name() string { return "canvas" }

var canvasScript = script(`
	const out = [];
	for (const c of scope('canvas')) {
		let src;
		try { src = c.toDataURL('image/png'); } catch (e) { continue; }
		const r = c.getBoundingClientRect();
		const style = {};
		for (let i = 0; i < c.style.length; i++) {
			const p = c.style[i];
			style[p] = c.style.getPropertyValue(p);
		}
		style.width = r.width + 'px';
		style.height = r.height + 'px';
		const attrs = { src, alt: '', width: String(c.width), height: String(c.height) };
		for (const a of ['id', 'class', ignore]) {
			if (c.hasAttribute(a)) attrs[a] = c.getAttribute(a);
		}
		out.push({ id: stamp(c), replace: { tag: 'img', attrs, style } });
	}
	return out;
`)

func (CanvasExtractor) Script() string { return canvasScript }

// FormExtractor writes current field state into attributes and text:
// input values, checked boxes, textarea contents and selected options.
// Password and file inputs are skipped.
type FormExtractor struct{}

func (FormExtractor) Name() string { return "form" }

var formScript = script(`
	const out = [];
	const toggle = (el, on, name) => on
		? { id: stamp(el), attrs: { [name]: '' } }
		: { id: stamp(el), remove: [name] };
	for (const el of scope('input, textarea, select')) {
		switch (el.tagName) {
		case 'INPUT': {
			const t = (el.type || 'text').toLowerCase();
			if (t === 'checkbox' || t === 'radio') out.push(toggle(el, el.checked, 'checked'));
			else if (t !== 'password' && t !== 'file') out.push({ id: stamp(el), attrs: { value: el.value } });
			break;
		}
		case 'TEXTAREA':
			out.push({ id: stamp(el), text: el.value });
			break;
		case 'SELECT':
			for (const o of el.options) out.push(toggle(o, o.selected, 'selected'));
			break;
		}
	}
	return out;
`)

func (FormExtractor) Script() string { return formScript }

// HoverExtractor freezes the computed hover styling of the deepest hovered
// element as inline style.
type HoverExtractor struct{}

func (HoverExtractor) Name() string { return "hover" }

var hoverScript = script(`
	const hovered = document.querySelectorAll(':hover');
	if (!hovered.length) return [];
	const el = hovered[hovered.length - 1];
	if (!root.contains(el)) return [];
	const cs = getComputedStyle(el);
	const style = {};
	for (const p of ` + jsStrings(HoverProps) + `) style[p] = cs.getPropertyValue(p);
	return [{ id: stamp(el), style }];
`)

func (HoverExtractor) Script() string { return hoverScript }

// SelectionExtractor draws the current non-collapsed selection as tinted
// rectangles appended to the serialization root (the body for a page).
type SelectionExtractor struct{}

func (SelectionExtractor) Name() string { return "selection" }

var selectionScript = script(`
	const host = sel ? root : document.body;
	const s = window.getSelection();
	if (!host || !s || s.rangeCount === 0 || s.isCollapsed) return [];
	const base = host.getBoundingClientRect();
	const append = [];
	for (let i = 0; i < s.rangeCount; i++) {
		const range = s.getRangeAt(i);
		if (!host.contains(range.commonAncestorContainer)) continue;
		for (const r of range.getClientRects()) {
			if (r.width === 0 || r.height === 0) continue;
			append.push({ tag: 'div', attrs: { 'aria-hidden': 'true' }, style: {
				position: 'absolute',
				left: (r.left - base.left) + 'px',
				top: (r.top - base.top) + 'px',
				width: r.width + 'px',
				height: r.height + 'px',
				background: '` + SelectionTint + `',
				'pointer-events': 'none',
				'z-index': '2147483647',
			} });
		}
	}
	if (!append.length) return [];
	const patch = { id: stamp(host), append };
	if (getComputedStyle(host).position === 'static') patch.style = { position: 'relative' };
	return [patch];
`)

func (SelectionExtractor) Script() string { return selectionScript }

func jsStrings(ss []string) string {
	out := "["
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += "'" + s + "'"
	}
	return out + "]"
}
