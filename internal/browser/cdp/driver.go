// Package cdp implements the browser driver over a locally managed Chrome
// instance via the DevTools protocol.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/config"
)

// markerAttr tags the element a query resolved so chromedp actions can
// target it with a plain CSS selector, including `:has-text` matches that
// CSS alone cannot express.
const markerAttr = "data-eversale-target"

// Driver drives one Chrome tab. It owns the allocator and browser contexts
// and tears both down on Close.
type Driver struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	browserCtx context.Context
	cancels    []context.CancelFunc
}

var _ schemas.BrowserDriver = (*Driver)(nil)

// New launches Chrome and attaches to a fresh tab.
func New(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		logger.Sugar().Debugf(format, args...)
	}))

	d := &Driver{
		cfg:        cfg,
		logger:     logger.Named("cdp"),
		browserCtx: browserCtx,
		cancels:    []context.CancelFunc{browserCancel, allocCancel},
	}

	// Starts the browser process eagerly so construction fails fast when
	// Chrome is missing.
	if err := chromedp.Run(browserCtx); err != nil {
		d.Close(ctx)
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return d, nil
}

// run executes chromedp actions under the per-operation timeout. The
// browser context carries the session; the caller context carries
// cancellation.
func (d *Driver) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opCtx, cancel := context.WithTimeout(d.browserCtx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(opCtx, actions...) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	err := d.run(ctx, d.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (d *Driver) Reload(ctx context.Context) error {
	err := d.run(ctx, d.cfg.NavigationTimeout,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, d.cfg.ActionTimeout, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("current url: %w", err)
	}
	return url, nil
}

func (d *Driver) Title(ctx context.Context) (string, error) {
	var title string
	if err := d.run(ctx, d.cfg.ActionTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("title: %w", err)
	}
	return title, nil
}

func (d *Driver) Content(ctx context.Context) (string, error) {
	var html string
	err := d.run(ctx, d.cfg.ActionTimeout,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("content: %w", err)
	}
	return html, nil
}

// matchScript locates the first visible element for a base selector and an
// optional lowercase text needle, marks it, and returns its facts. A null
// result means no visible match.
const matchScript = `
(function(sel, needle) {
    document.querySelectorAll('[` + markerAttr + `]').forEach(function(n) {
        n.removeAttribute('` + markerAttr + `');
    });

    var nodes;
    try {
        nodes = document.querySelectorAll(sel);
    } catch (e) {
        return null;
    }

    for (var i = 0; i < nodes.length; i++) {
        var node = nodes[i];
        if (needle) {
            var text = (node.textContent || node.value || '').toLowerCase();
            if (text.indexOf(needle) === -1) continue;
        }

        var rect = node.getBoundingClientRect();
        var style = window.getComputedStyle(node);
        var visible = rect.width > 0 && rect.height > 0 &&
            style.display !== 'none' && style.visibility !== 'hidden';
        if (!visible) continue;

        node.setAttribute('` + markerAttr + `', '1');
        return {
            tag: (node.tagName || '').toLowerCase(),
            type: node.getAttribute('type') || '',
            role: node.getAttribute('role') || '',
            aria_label: node.getAttribute('aria-label') || '',
            placeholder: node.getAttribute('placeholder') || '',
            id: node.id || '',
            classes: Array.prototype.slice.call(node.classList || []),
            text: (node.textContent || '').trim().slice(0, 200)
        };
    }
    return null;
})(%s, %s)
`

// mark locates and tags the element a selector names, returning its facts.
func (d *Driver) mark(ctx context.Context, selector string) (*schemas.ElementFacts, error) {
	base, needle := splitHasText(selector)
	if base == "" {
		base = "*"
	}
	script := fmt.Sprintf(matchScript, jsEncode(base), jsEncode(strings.ToLower(needle)))

	var raw json.RawMessage
	err := d.run(ctx, d.cfg.ActionTimeout,
		chromedp.Evaluate(script, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, schemas.ErrNoMatch
	}

	var facts schemas.ElementFacts
	if err := json.Unmarshal(raw, &facts); err != nil {
		return nil, fmt.Errorf("query %q: bad facts payload: %w", selector, err)
	}
	return &facts, nil
}

func (d *Driver) Query(ctx context.Context, selector string) (schemas.ElementHandle, error) {
	facts, err := d.mark(ctx, selector)
	if err != nil {
		return nil, err
	}
	return &element{driver: d, selector: selector, facts: *facts}, nil
}

func (d *Driver) Click(ctx context.Context, selector string) error {
	if _, err := d.mark(ctx, selector); err != nil {
		return err
	}
	err := d.run(ctx, d.cfg.ActionTimeout,
		chromedp.Click(markedSelector(), chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

func (d *Driver) Fill(ctx context.Context, selector, text string) error {
	if _, err := d.mark(ctx, selector); err != nil {
		return err
	}
	err := d.run(ctx, d.cfg.ActionTimeout,
		chromedp.Clear(markedSelector(), chromedp.ByQuery),
		chromedp.SendKeys(markedSelector(), text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

func (d *Driver) PressKey(ctx context.Context, key string) error {
	if err := d.run(ctx, d.cfg.ActionTimeout, chromedp.KeyEvent(domKey(key))); err != nil {
		return fmt.Errorf("press key %q: %w", key, err)
	}
	return nil
}

func (d *Driver) BringToFront(ctx context.Context) error {
	if err := d.run(ctx, d.cfg.ActionTimeout, page.BringToFront()); err != nil {
		return fmt.Errorf("bring to front: %w", err)
	}
	return nil
}

// Close tears down the tab, the browser, and the allocator.
func (d *Driver) Close(ctx context.Context) error {
	for _, cancel := range d.cancels {
		cancel()
	}
	return nil
}

// element is a handle bound to the selector that matched it. Actions
// re-resolve the selector so the handle stays usable across DOM churn.
type element struct {
	driver   *Driver
	selector string
	facts    schemas.ElementFacts
}

var _ schemas.ElementHandle = (*element)(nil)

func (e *element) Selector() string            { return e.selector }
func (e *element) Facts() schemas.ElementFacts { return e.facts }

func (e *element) Click(ctx context.Context) error {
	return e.driver.Click(ctx, e.selector)
}

func (e *element) Fill(ctx context.Context, text string) error {
	return e.driver.Fill(ctx, e.selector, text)
}

func markedSelector() string {
	return "[" + markerAttr + `="1"]`
}

// splitHasText separates a `:has-text('needle')` suffix from its base CSS
// selector. Selectors without the suffix pass through untouched.
func splitHasText(selector string) (base, needle string) {
	idx := strings.Index(selector, ":has-text(")
	if idx < 0 {
		return strings.TrimSpace(selector), ""
	}
	base = strings.TrimSpace(selector[:idx])

	rest := selector[idx+len(":has-text("):]
	end := strings.LastIndex(rest, ")")
	if end < 0 {
		end = len(rest)
	}
	needle = strings.TrimSpace(rest[:end])
	needle = strings.Trim(needle, `'"`)
	return base, needle
}

// domKey maps DOM key names to the raw key runes chromedp.KeyEvent expects.
// Unknown names are sent as literal text.
func domKey(key string) string {
	switch key {
	case "Enter":
		return kb.Enter
	case "Tab":
		return kb.Tab
	case "Escape":
		return kb.Escape
	case "Backspace":
		return kb.Backspace
	case "Delete":
		return kb.Delete
	case "ArrowUp":
		return kb.ArrowUp
	case "ArrowDown":
		return kb.ArrowDown
	case "ArrowLeft":
		return kb.ArrowLeft
	case "ArrowRight":
		return kb.ArrowRight
	case "Home":
		return kb.Home
	case "End":
		return kb.End
	case "PageUp":
		return kb.PageUp
	case "PageDown":
		return kb.PageDown
	default:
		return key
	}
}

// jsEncode safely embeds a Go string as a JS string literal.
func jsEncode(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
