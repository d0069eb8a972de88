package snapshot

import "github.com/microcosm-cc/bluemonday"

// snapshotPolicy keeps everything a static snapshot needs to look right:
// structure, inline and embedded styles, images (including data URLs from
// canvases) and inline SVG. It drops scripts, frames, objects and event
// handler attributes.
func snapshotPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowUnsafe(true) // required to keep <style> contents
	p.AllowElements("html", "head", "body", "title", "meta", "link", "base", "style")
	p.AllowElements(
		"div", "span", "p", "a", "section", "article", "header", "footer", "nav", "main", "aside",
		"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "dl", "dt", "dd",
		"strong", "em", "b", "i", "u", "s", "small", "sub", "sup", "mark", "code", "pre", "blockquote",
		"br", "hr", "figure", "figcaption", "picture", "source", "img", "video",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption", "colgroup", "col",
		"form", "label", "input", "textarea", "select", "option", "optgroup", "button", "fieldset", "legend",
		"details", "summary", "time", "abbr", "cite", "q", "kbd", "samp", "var", "wbr",
	)
	p.AllowElements(
		"svg", "g", "path", "circle", "ellipse", "line", "polyline", "polygon", "rect",
		"text", "tspan", "defs", "use", "symbol", "lineargradient", "radialgradient", "stop",
		"clippath", "mask", "pattern",
	)
	p.AllowAttrs("class", "id", "style", "title", "lang", "dir", "hidden", "role",
		"aria-hidden", "aria-label", "width", "height", "data-theme",
		ScrollXAttr, ScrollYAttr).Globally()
	p.AllowDataAttributes()
	p.AllowStyling()
	p.AllowAttrs("href").OnElements("a", "link", "base")
	p.AllowAttrs("rel", "type", "media", "crossorigin").OnElements("link")
	p.AllowAttrs("charset", "name", "content").OnElements("meta")
	p.AllowAttrs("src", "srcset", "sizes", "alt", "loading", "decoding").OnElements("img", "source")
	p.AllowAttrs("poster").OnElements("video")
	p.AllowAttrs("value", "type", "checked", "selected", "disabled", "placeholder",
		"readonly", "multiple", "rows", "cols", "for", "name").OnElements(
		"input", "textarea", "select", "option", "button", "label")
	p.AllowAttrs("colspan", "rowspan", "scope").OnElements("td", "th")
	p.AllowAttrs("open").OnElements("details")
	p.AllowAttrs("viewbox", "xmlns", "fill", "stroke", "stroke-width", "stroke-linecap",
		"stroke-linejoin", "d", "cx", "cy", "r", "rx", "ry", "x", "y", "x1", "y1", "x2", "y2",
		"points", "transform", "opacity", "fill-rule", "clip-rule", "offset", "stop-color",
		"gradientunits", "preserveaspectratio", "href").OnElements(
		"svg", "g", "path", "circle", "ellipse", "line", "polyline", "polygon", "rect",
		"text", "tspan", "use", "symbol", "lineargradient", "radialgradient", "stop",
		"clippath", "mask", "pattern")
	p.AllowURLSchemes("http", "https", "data")
	p.AllowDataURIImages()
	p.AllowRelativeURLs(true)
	return p
}
