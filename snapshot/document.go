package snapshot

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/snapwipe/domsnap"
)

// Root attributes carrying the scroll offset the document was serialized at.
const (
	ScrollXAttr = domsnap.ScrollXAttr
	ScrollYAttr = domsnap.ScrollYAttr
)

// docInfo is what the renderer needs from a document before loading it.
type docInfo struct {
	ScrollX, ScrollY float64
	BaseHrefs        []string
}

// inspect tokenizes the document head. It stops at <body> since neither
// the root attributes nor <base> can appear later.
func inspect(doc string) docInfo {
	var info docInfo
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return info
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Html:
				for _, a := range tok.Attr {
					switch a.Key {
					case ScrollXAttr:
						info.ScrollX = parseOffset(a.Val)
					case ScrollYAttr:
						info.ScrollY = parseOffset(a.Val)
					}
				}
			case atom.Base:
				for _, a := range tok.Attr {
					if a.Key == "href" && a.Val != "" {
						info.BaseHrefs = append(info.BaseHrefs, a.Val)
					}
				}
			case atom.Body:
				return info
			}
		}
	}
}

func parseOffset(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 || v != v {
		return 0
	}
	return v
}
