package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/dom"
	"github.com/mafredri/cdp/protocol/input"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/tidwall/gjson"

	"vehicheck/internal/logger"
)

// WaitUntil selects the readiness signal a navigation blocks on. Some portals
// render client-side and need network idle before any selector exists.
type WaitUntil string

const (
	WaitLoad        WaitUntil = "load"
	WaitDOMReady    WaitUntil = "domready"
	WaitNetworkIdle WaitUntil = "netidle"
)

// ErrWaitTimeout is returned when a bounded wait expired before its
// condition held.
var ErrWaitTimeout = errors.New("wait timed out")

// stealthScript masks the obvious automation fingerprints before any portal
// script runs. Equivalent in spirit to the stealth plugin the flows were
// designed against; portals beyond this are out of scope.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['bg-BG', 'bg', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3] });
window.chrome = window.chrome || { runtime: {} };
`

// Page drives a single browser tab. It is not safe for concurrent use; the
// session owner is the only goroutine that may touch it.
type Page struct {
	client *cdp.Client
	log    logger.Logger
}

func newPage(ctx context.Context, client *cdp.Client, l logger.Logger) (*Page, error) {
	p := &Page{client: client, log: l}
	if err := client.Page.Enable(ctx); err != nil {
		return nil, fmt.Errorf("enable page domain: %w", err)
	}
	if err := client.Page.SetLifecycleEventsEnabled(ctx, page.NewSetLifecycleEventsEnabledArgs(true)); err != nil {
		return nil, fmt.Errorf("enable lifecycle events: %w", err)
	}
	_, err := client.Page.AddScriptToEvaluateOnNewDocument(ctx, page.NewAddScriptToEvaluateOnNewDocumentArgs(stealthScript))
	if err != nil {
		return nil, fmt.Errorf("install stealth preamble: %w", err)
	}
	return p, nil
}

// Navigate loads url and blocks until the requested readiness signal fires
// or timeout elapses.
func (p *Page) Navigate(ctx context.Context, url string, wait WaitUntil, timeout time.Duration) error {
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Subscribe before navigating so the signal cannot be missed.
	var ready func() error
	switch wait {
	case WaitDOMReady:
		cl, err := p.client.Page.DOMContentEventFired(nctx)
		if err != nil {
			return fmt.Errorf("subscribe domcontent: %w", err)
		}
		defer cl.Close()
		ready = func() error { _, err := cl.Recv(); return err }
	case WaitNetworkIdle:
		cl, err := p.client.Page.LifecycleEvent(nctx)
		if err != nil {
			return fmt.Errorf("subscribe lifecycle: %w", err)
		}
		defer cl.Close()
		ready = func() error {
			for {
				ev, err := cl.Recv()
				if err != nil {
					return err
				}
				if ev.Name == "networkIdle" {
					return nil
				}
			}
		}
	default:
		cl, err := p.client.Page.LoadEventFired(nctx)
		if err != nil {
			return fmt.Errorf("subscribe load: %w", err)
		}
		defer cl.Close()
		ready = func() error { _, err := cl.Recv(); return err }
	}

	nav, err := p.client.Page.Navigate(nctx, page.NewNavigateArgs(url))
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if nav.ErrorText != nil && *nav.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, *nav.ErrorText)
	}
	if err := ready(); err != nil {
		return fmt.Errorf("await %s after navigate: %w", wait, err)
	}
	p.log.Debug("navigation settled", "url", url, "wait", string(wait))
	return nil
}

// Eval runs a JS expression in the page and returns its JSON value.
func (p *Page) Eval(ctx context.Context, expr string) (gjson.Result, error) {
	args := runtime.NewEvaluateArgs(expr).SetReturnByValue(true).SetAwaitPromise(true)
	reply, err := p.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return gjson.Result{}, err
	}
	if reply.ExceptionDetails != nil {
		return gjson.Result{}, fmt.Errorf("page script: %s", reply.ExceptionDetails.Text)
	}
	return gjson.ParseBytes(reply.Result.Value), nil
}

// WaitFunc polls expr until it evaluates truthy, checking every poll
// interval, giving up after timeout with ErrWaitTimeout.
func (p *Page) WaitFunc(ctx context.Context, expr string, timeout, poll time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		res, err := p.Eval(wctx, expr)
		if err == nil && res.Bool() {
			return nil
		}
		select {
		case <-wctx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// WaitSelector blocks until sel matches an element in the DOM.
func (p *Page) WaitSelector(ctx context.Context, sel string, timeout, poll time.Duration) error {
	return p.WaitFunc(ctx, fmt.Sprintf("document.querySelector(%s) !== null", quoteJS(sel)), timeout, poll)
}

// Exists reports whether sel currently matches an element.
func (p *Page) Exists(ctx context.Context, sel string) (bool, error) {
	res, err := p.Eval(ctx, fmt.Sprintf("document.querySelector(%s) !== null", quoteJS(sel)))
	if err != nil {
		return false, err
	}
	return res.Bool(), nil
}

// TypeHuman focuses sel and enters text one key event at a time with a fixed
// pacing delay. Some portals' bot mitigation rejects instantaneous fills.
func (p *Page) TypeHuman(ctx context.Context, sel, text string, delay time.Duration) error {
	if _, err := p.Eval(ctx, fmt.Sprintf("document.querySelector(%s).focus()", quoteJS(sel))); err != nil {
		return fmt.Errorf("focus %s: %w", sel, err)
	}
	for _, r := range text {
		args := input.NewDispatchKeyEventArgs("char").SetText(string(r))
		if err := p.client.Input.DispatchKeyEvent(ctx, args); err != nil {
			return fmt.Errorf("type into %s: %w", sel, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

// Click dispatches a click on the first element matching sel.
func (p *Page) Click(ctx context.Context, sel string) error {
	_, err := p.Eval(ctx, fmt.Sprintf("document.querySelector(%s).click()", quoteJS(sel)))
	if err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

// Text returns the innerText of the first element matching sel.
func (p *Page) Text(ctx context.Context, sel string) (string, error) {
	res, err := p.Eval(ctx, fmt.Sprintf("document.querySelector(%s)?.innerText ?? ''", quoteJS(sel)))
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// HTML returns the outerHTML of the first element matching sel.
func (p *Page) HTML(ctx context.Context, sel string) (string, error) {
	res, err := p.Eval(ctx, fmt.Sprintf("document.querySelector(%s)?.outerHTML ?? ''", quoteJS(sel)))
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// ElementShot captures a PNG of the element's content box.
func (p *Page) ElementShot(ctx context.Context, sel string) ([]byte, error) {
	doc, err := p.client.DOM.GetDocument(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	node, err := p.client.DOM.QuerySelector(ctx, dom.NewQuerySelectorArgs(doc.Root.NodeID, sel))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", sel, err)
	}
	if node.NodeID == 0 {
		return nil, fmt.Errorf("no element matches %s", sel)
	}
	box, err := p.client.DOM.GetBoxModel(ctx, dom.NewGetBoxModelArgs().SetNodeID(node.NodeID))
	if err != nil {
		return nil, fmt.Errorf("box model for %s: %w", sel, err)
	}
	quad := box.Model.Content
	clip := page.Viewport{
		X:      quad[0],
		Y:      quad[1],
		Width:  quad[2] - quad[0],
		Height: quad[5] - quad[1],
		Scale:  1,
	}
	shot, err := p.client.Page.CaptureScreenshot(ctx, page.NewCaptureScreenshotArgs().SetFormat("png").SetClip(clip))
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", sel, err)
	}
	return shot.Data, nil
}

// FullShot captures a PNG of the full viewport, used for failure snapshots.
func (p *Page) FullShot(ctx context.Context) ([]byte, error) {
	shot, err := p.client.Page.CaptureScreenshot(ctx, page.NewCaptureScreenshotArgs().SetFormat("png"))
	if err != nil {
		return nil, fmt.Errorf("capture page: %w", err)
	}
	return shot.Data, nil
}

// PageHTML returns the serialized document, used for failure snapshots.
func (p *Page) PageHTML(ctx context.Context) (string, error) {
	res, err := p.Eval(ctx, "document.documentElement.outerHTML")
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// quoteJS renders s as a JS string literal.
func quoteJS(s string) string {
	return strconv.Quote(s)
}
