package domsnap

import (
	"sort"
	"strings"

	"github.com/gorilla/css/scanner"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element describes a node a patch creates.
type Element struct {
	Tag   string            `json:"tag"`
	Attrs map[string]string `json:"attrs,omitempty"`
	Style map[string]string `json:"style,omitempty"`
}

// Patch is a serializable edit of one stamped element.
type Patch struct {
	// ID is the stamp of the target element.
	ID string `json:"id"`
	// Attrs are set on the target.
	Attrs map[string]string `json:"attrs,omitempty"`
	// Remove lists attributes deleted from the target.
	Remove []string `json:"remove,omitempty"`
	// Style declarations are merged into the inline style.
	Style map[string]string `json:"style,omitempty"`
	// Text replaces the target's children with one text node.
	Text *string `json:"text,omitempty"`
	// Replace swaps the target for a new element.
	Replace *Element `json:"replace,omitempty"`
	// Append adds children to the target.
	Append []Element `json:"append,omitempty"`
}

// Apply edits n. The target is replaced in its parent when Replace is set;
// the other fields then apply to the replacement.
func (p Patch) Apply(n *html.Node) *html.Node {
	if p.Replace != nil {
		repl := p.Replace.node()
		if n.Parent != nil {
			n.Parent.InsertBefore(repl, n)
			n.Parent.RemoveChild(n)
		}
		n = repl
	}
	for _, k := range sortedKeys(p.Attrs) {
		setAttr(n, k, p.Attrs[k])
	}
	for _, k := range p.Remove {
		removeAttr(n, k)
	}
	if len(p.Style) > 0 {
		setStyle(n, p.Style)
	}
	if p.Text != nil {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: *p.Text})
	}
	for _, e := range p.Append {
		n.AppendChild(e.node())
	}
	return n
}

func (e Element) node() *html.Node {
	tag := strings.ToLower(e.Tag)
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	for _, k := range sortedKeys(e.Attrs) {
		setAttr(n, k, e.Attrs[k])
	}
	if len(e.Style) > 0 {
		setStyle(n, e.Style)
	}
	return n
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// declaration is one property of an inline style.
type declaration struct {
	prop, value string
}

// parseStyle splits an inline style into declarations with a CSS
// tokenizer, so semicolons inside url() and quoted strings stay in their
// value. Whitespace runs collapse to one space; comments are dropped.
func parseStyle(s string) []declaration {
	var out []declaration
	var prop, value strings.Builder
	inValue := false
	flush := func() {
		p := strings.ToLower(strings.TrimSpace(prop.String()))
		if inValue && p != "" {
			out = append(out, declaration{p, strings.TrimSpace(value.String())})
		}
		prop.Reset()
		value.Reset()
		inValue = false
	}

	sc := scanner.New(s)
	for {
		tok := sc.Next()
		switch {
		case tok.Type == scanner.TokenEOF, tok.Type == scanner.TokenError:
			flush()
			return out
		case tok.Type == scanner.TokenComment:
		case tok.Type == scanner.TokenChar && tok.Value == ";":
			flush()
		case tok.Type == scanner.TokenChar && tok.Value == ":" && !inValue:
			inValue = true
		case tok.Type == scanner.TokenS && inValue:
			if v := value.String(); v != "" && !strings.HasSuffix(v, " ") {
				value.WriteByte(' ')
			}
		case tok.Type == scanner.TokenS:
		case inValue:
			value.WriteString(tok.Value)
		default:
			prop.WriteString(tok.Value)
		}
	}
}

func formatStyle(decls []declaration) string {
	var b strings.Builder
	for i, d := range decls {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(d.prop)
		b.WriteString(": ")
		b.WriteString(d.value)
		b.WriteString(";")
	}
	return b.String()
}

// setStyle merges props into n's inline style. Existing declarations keep
// their position; new ones are appended in key order.
func setStyle(n *html.Node, props map[string]string) {
	cur, _ := getAttr(n, "style")
	decls := parseStyle(cur)
	seen := make(map[string]bool, len(props))
	for i, d := range decls {
		if v, ok := props[d.prop]; ok {
			decls[i].value = v
			seen[d.prop] = true
		}
	}
	for _, k := range sortedKeys(props) {
		if !seen[k] {
			decls = append(decls, declaration{strings.ToLower(k), props[k]})
		}
	}
	setAttr(n, "style", formatStyle(decls))
}

// setThemeClass replaces any light or dark class with theme.
func setThemeClass(n *html.Node, theme string) {
	cur, _ := getAttr(n, "class")
	var out []string
	for _, c := range strings.Fields(cur) {
		if c == "light" || c == "dark" {
			continue
		}
		out = append(out, c)
	}
	out = append(out, theme)
	setAttr(n, "class", strings.Join(out, " "))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// walk visits n and its descendants depth-first. fn returning false skips
// the children of the visited node.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		walk(c, fn)
		c = next
	}
}

// index maps stamps to elements.
func index(root *html.Node) map[string]*html.Node {
	out := make(map[string]*html.Node)
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if id, ok := getAttr(n, StampAttr); ok {
				out[id] = n
			}
		}
		return true
	})
	return out
}

func unstamp(root *html.Node) {
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			removeAttr(n, StampAttr)
		}
		return true
	})
}
