// Package transition coordinates animated light/dark theme switches.
//
// An Orchestrator owns at most one Session at a time. Toggle starts a
// session, or reverses the one in flight. Each session captures whatever
// its strategy needs (a rasterized "before" image, optionally an "after"
// image, or a native view transition), flips the theme underneath the
// captured frame, and hands a wipe.Engine the job of revealing the result.
// Every failure path converges on an instant theme switch or a revert, both
// of which tear the session down completely.
package transition

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg" // decoders for Image.Decode
	_ "image/png"
	"strings"

	"github.com/hazyhaar/snapwipe/wipe"
)

// Theme is a resolved document theme.
type Theme string

const (
	Light Theme = "light"
	Dark  Theme = "dark"
)

// Opposite returns the other theme.
func (t Theme) Opposite() Theme {
	if t == Dark {
		return Light
	}
	return Dark
}

// Valid reports whether t is light or dark.
func (t Theme) Valid() bool {
	return t == Light || t == Dark
}

// ParseTheme accepts "light" or "dark", case-insensitively.
func ParseTheme(s string) (Theme, error) {
	t := Theme(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("transition: unknown theme %q", s)
	}
	return t, nil
}

// DirectionFor derives the wipe direction from the theme current at session
// start: leaving dark wipes top-down, leaving light wipes bottom-up.
func DirectionFor(current Theme) wipe.Direction {
	if current == Dark {
		return wipe.TopDown
	}
	return wipe.BottomUp
}

// Image is a rasterized snapshot.
type Image struct {
	MIME string
	Data []byte
}

// DataURL encodes the image for an <img src>.
func (i Image) DataURL() string {
	mime := i.MIME
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Empty reports whether the image carries no pixels.
func (i Image) Empty() bool {
	return len(i.Data) == 0
}

// Decode parses the image bytes.
func (i Image) Decode() (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(i.Data))
	if err != nil {
		return nil, fmt.Errorf("transition: decode image: %w", err)
	}
	return img, nil
}

// ImageFromDataURL parses a base64 data URL.
func ImageFromDataURL(s string) (Image, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Image{}, fmt.Errorf("transition: not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, fmt.Errorf("transition: malformed data URL")
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return Image{}, fmt.Errorf("transition: data URL is not base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("transition: data URL payload: %w", err)
	}
	return Image{MIME: mime, Data: data}, nil
}
