// Package rodpage implements the transition collaborators against a live
// page driven over the Chrome DevTools Protocol.
package rodpage

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/snapwipe/domsnap"
	"github.com/hazyhaar/snapwipe/transition"
	"github.com/hazyhaar/snapwipe/wipe"
)

// IgnoreAttr marks elements that must not appear in a snapshot.
const IgnoreAttr = domsnap.IgnoreAttr

// Element ids and classes injected into the page.
const (
	coverID    = "theme-wipe-cover"
	underlayID = "theme-wipe-underlay"
	dividerID  = "theme-wipe-divider"
	styleID    = "theme-wipe-style"
	wipeClass  = "theme-wipe"
	clipVar    = "--theme-wipe-clip"
)

// Page drives one rod page. It implements transition.ThemeProvider,
// transition.Surface and transition.ViewTransitioner.
type Page struct {
	page *rod.Page
}

var (
	_ transition.ThemeProvider    = (*Page)(nil)
	_ transition.Surface          = (*Page)(nil)
	_ transition.ViewTransitioner = (*Page)(nil)
)

// New wraps p.
func New(p *rod.Page) *Page {
	return &Page{page: p}
}

// Rod returns the underlying page.
func (p *Page) Rod() *rod.Page { return p.page }

func (p *Page) eval(ctx context.Context, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	return p.page.Context(ctx).Evaluate(rod.Eval(js, args...).ByPromise())
}

func (p *Page) run(ctx context.Context, op, js string, args ...any) error {
	if _, err := p.eval(ctx, js, args...); err != nil {
		return fmt.Errorf("rodpage: %s: %w", op, err)
	}
	return nil
}

// Resolved reads the theme from the root class list, falling back to
// data-theme and then to the color-scheme media query.
func (p *Page) Resolved(ctx context.Context) (transition.Theme, error) {
	res, err := p.eval(ctx, `() => {
		const root = document.documentElement;
		if (root.classList.contains('dark')) return 'dark';
		if (root.classList.contains('light')) return 'light';
		const attr = root.getAttribute('data-theme');
		if (attr === 'dark' || attr === 'light') return attr;
		return matchMedia('(prefers-color-scheme: dark)').matches ? 'dark' : 'light';
	}`)
	if err != nil {
		return "", fmt.Errorf("rodpage: resolve theme: %w", err)
	}
	return transition.ParseTheme(res.Value.Str())
}

// SetTheme applies t to the root the way class-based theme providers do.
func (p *Page) SetTheme(ctx context.Context, t transition.Theme) error {
	return p.run(ctx, "set theme", `(theme) => {
		const root = document.documentElement;
		root.classList.remove('light', 'dark');
		root.classList.add(theme);
		root.setAttribute('data-theme', theme);
		root.style.colorScheme = theme;
		try { localStorage.setItem('theme', theme); } catch (e) {}
	}`, string(t))
}

// Cover places img over the viewport and resolves once it is decoded.
func (p *Page) Cover(ctx context.Context, img transition.Image) error {
	return p.run(ctx, "cover", `async (id, dividerID, attr, src) => {
		let el = document.getElementById(id);
		if (!el) {
			el = document.createElement('img');
			el.id = id;
			el.setAttribute(attr, '');
			el.setAttribute('aria-hidden', 'true');
			Object.assign(el.style, {
				position: 'fixed', inset: '0', width: '100vw', height: '100vh',
				zIndex: '2147483646', pointerEvents: 'none', objectFit: 'cover',
			});
			document.body.appendChild(el);
		}
		let div = document.getElementById(dividerID);
		if (!div) {
			div = document.createElement('div');
			div.id = dividerID;
			div.setAttribute(attr, '');
			Object.assign(div.style, {
				position: 'fixed', left: '0', right: '0', height: '2px', top: '0',
				zIndex: '2147483647', pointerEvents: 'none', display: 'none',
				background: 'currentColor', opacity: '0.6',
			});
			document.body.appendChild(div);
		}
		el.src = src;
		await el.decode();
	}`, coverID, dividerID, IgnoreAttr, img.DataURL())
}

// Underlay places img directly beneath the cover.
func (p *Page) Underlay(ctx context.Context, img transition.Image) error {
	return p.run(ctx, "underlay", `async (id, attr, src) => {
		let el = document.getElementById(id);
		if (!el) {
			el = document.createElement('img');
			el.id = id;
			el.setAttribute(attr, '');
			el.setAttribute('aria-hidden', 'true');
			Object.assign(el.style, {
				position: 'fixed', inset: '0', width: '100vw', height: '100vh',
				zIndex: '2147483645', pointerEvents: 'none', objectFit: 'cover',
			});
			document.body.appendChild(el);
		}
		el.src = src;
		await el.decode();
	}`, underlayID, IgnoreAttr, img.DataURL())
}

// Uncover removes every element Cover and Underlay added.
func (p *Page) Uncover(ctx context.Context) error {
	return p.run(ctx, "uncover", `(ids) => {
		for (const id of ids) document.getElementById(id)?.remove();
	}`, []string{coverID, underlayID, dividerID})
}

// LockScroll hides root overflow, remembering the previous value.
func (p *Page) LockScroll(ctx context.Context) error {
	return p.run(ctx, "lock scroll", `() => {
		const root = document.documentElement;
		if (root.dataset.themeWipeOverflow === undefined) {
			root.dataset.themeWipeOverflow = root.style.overflow;
		}
		root.style.overflow = 'hidden';
	}`)
}

// UnlockScroll restores the overflow LockScroll saved.
func (p *Page) UnlockScroll(ctx context.Context) error {
	return p.run(ctx, "unlock scroll", `() => {
		const root = document.documentElement;
		const prev = root.dataset.themeWipeOverflow;
		root.style.overflow = prev === undefined ? '' : prev;
		delete root.dataset.themeWipeOverflow;
	}`)
}

// Paint resolves after two animation frames.
func (p *Page) Paint(ctx context.Context) error {
	return p.run(ctx, "paint", `() => new Promise(r => requestAnimationFrame(() => requestAnimationFrame(r)))`)
}

// Render applies f to the cover, the divider and the root custom
// properties read by the view-transition stylesheet.
func (p *Page) Render(ctx context.Context, f wipe.Frame) error {
	showDivider := f.Progress > 0 && f.Progress < 100
	return p.run(ctx, "render", `(coverID, dividerID, progressVar, clipVar, progress, clip, top, show) => {
		const root = document.documentElement;
		root.style.setProperty(progressVar, progress);
		root.style.setProperty(clipVar, clip);
		const cover = document.getElementById(coverID);
		if (cover) cover.style.clipPath = clip;
		const div = document.getElementById(dividerID);
		if (div) {
			div.style.top = top;
			div.style.display = show ? 'block' : 'none';
		}
	}`, coverID, dividerID, wipe.ProgressVar, clipVar, f.CSSValue(), f.ClipPath, f.DividerTop, showDivider)
}

// SetWipeMode toggles the root class selecting progress-driven clipping of
// the view-transition snapshots.
func (p *Page) SetWipeMode(ctx context.Context, on bool) error {
	return p.run(ctx, "wipe mode", `(cls, on) => {
		document.documentElement.classList.toggle(cls, on);
	}`, wipeClass, on)
}

// viewTransitionCSS keeps the transition alive with a held animation while
// the old snapshot is clipped from the frame custom property.
var viewTransitionCSS = strings.NewReplacer("{cls}", wipeClass, "{clip}", clipVar).Replace(`
@keyframes theme-wipe-hold { from { opacity: 1; } to { opacity: 1; } }
html.{cls}::view-transition-old(root),
html.{cls}::view-transition-new(root) {
	animation: theme-wipe-hold 3600s linear;
	mix-blend-mode: normal;
}
html.{cls}::view-transition-old(root) {
	z-index: 2;
	clip-path: var({clip}, inset(0 0 0 0));
}
html.{cls}::view-transition-new(root) { z-index: 1; }
`)

// Supported reports whether the page exposes document.startViewTransition.
func (p *Page) Supported(ctx context.Context) bool {
	res, err := p.eval(ctx, `() => typeof document.startViewTransition === 'function'`)
	return err == nil && res.Value.Bool()
}

// Begin applies target inside a view transition and resolves once the
// transition is ready.
func (p *Page) Begin(ctx context.Context, target transition.Theme, wipeStyle bool) error {
	return p.run(ctx, "begin view transition", `async (styleID, css, theme, wipe) => {
		if (wipe && !document.getElementById(styleID)) {
			const style = document.createElement('style');
			style.id = styleID;
			style.textContent = css;
			document.head.appendChild(style);
		}
		const root = document.documentElement;
		const vt = document.startViewTransition(() => {
			root.classList.remove('light', 'dark');
			root.classList.add(theme);
			root.setAttribute('data-theme', theme);
			root.style.colorScheme = theme;
			try { localStorage.setItem('theme', theme); } catch (e) {}
		});
		window.__themeWipeTransition = vt;
		await vt.ready;
	}`, styleID, viewTransitionCSS, string(target), wipeStyle)
}

// Finish ends the running transition and removes the wipe stylesheet.
func (p *Page) Finish(ctx context.Context) error {
	return p.run(ctx, "finish view transition", `async (styleID) => {
		const vt = window.__themeWipeTransition;
		delete window.__themeWipeTransition;
		if (vt) {
			vt.skipTransition();
			try { await vt.finished; } catch (e) {}
		}
		document.getElementById(styleID)?.remove();
	}`, styleID)
}
