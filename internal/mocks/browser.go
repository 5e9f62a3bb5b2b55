package mocks

import (
	"context"
	"sync"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
)

// FakeElement implements schemas.ElementHandle with scriptable outcomes.
type FakeElement struct {
	Sel      string
	Shape    schemas.ElementFacts
	ClickErr error
	FillErr  error

	mu     sync.Mutex
	clicks int
	fills  []string
}

var _ schemas.ElementHandle = (*FakeElement)(nil)

func (e *FakeElement) Selector() string            { return e.Sel }
func (e *FakeElement) Facts() schemas.ElementFacts { return e.Shape }

func (e *FakeElement) Click(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clicks++
	return e.ClickErr
}

func (e *FakeElement) Fill(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fills = append(e.fills, text)
	return e.FillErr
}

func (e *FakeElement) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func (e *FakeElement) Fills() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.fills...)
}

// FakeDriver implements schemas.BrowserDriver against an in-memory page
// model: a selector-to-element map plus raw HTML content. All state access
// is mutex guarded so swarm tests can hammer it concurrently.
type FakeDriver struct {
	mu sync.Mutex

	URL       string
	PageTitle string
	HTML      string

	// Elements maps exact selector strings to the element a Query returns.
	Elements map[string]*FakeElement

	// ContentFunc, when set, overrides HTML on every Content call. Useful
	// for pages that change while being polled.
	ContentFunc func() string
	// NavigateFunc, when set, runs on every Navigate after the URL updates.
	NavigateFunc func(url string)
	// ReloadFunc, when set, runs on every Reload.
	ReloadFunc func()

	NavigateErr   error
	ReloadErr     error
	ContentErr    error
	CurrentURLErr error
	TitleErr      error
	QueryErr      map[string]error // per-selector hard failures

	queryLog    []string
	navigateLog []string
	pressedKeys []string
	reloads     int
	fronted     int
	closed      bool
}

var _ schemas.BrowserDriver = (*FakeDriver)(nil)

// NewFakeDriver returns a driver for a blank page at url.
func NewFakeDriver(url string) *FakeDriver {
	return &FakeDriver{
		URL:      url,
		Elements: make(map[string]*FakeElement),
	}
}

// AddElement registers an element under its selector and returns it.
func (d *FakeDriver) AddElement(sel string, facts schemas.ElementFacts) *FakeElement {
	d.mu.Lock()
	defer d.mu.Unlock()
	el := &FakeElement{Sel: sel, Shape: facts}
	d.Elements[sel] = el
	return el
}

// RemoveElement unregisters a selector.
func (d *FakeDriver) RemoveElement(sel string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.Elements, sel)
}

func (d *FakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	d.navigateLog = append(d.navigateLog, url)
	err := d.NavigateErr
	hook := d.NavigateFunc
	if err == nil {
		d.URL = url
	}
	d.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(url)
	}
	return nil
}

func (d *FakeDriver) Reload(ctx context.Context) error {
	d.mu.Lock()
	d.reloads++
	err := d.ReloadErr
	hook := d.ReloadFunc
	d.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

func (d *FakeDriver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CurrentURLErr != nil {
		return "", d.CurrentURLErr
	}
	return d.URL, nil
}

func (d *FakeDriver) Title(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.TitleErr != nil {
		return "", d.TitleErr
	}
	return d.PageTitle, nil
}

func (d *FakeDriver) Content(ctx context.Context) (string, error) {
	d.mu.Lock()
	err := d.ContentErr
	fn := d.ContentFunc
	html := d.HTML
	d.mu.Unlock()

	if err != nil {
		return "", err
	}
	if fn != nil {
		return fn(), nil
	}
	return html, nil
}

func (d *FakeDriver) Query(ctx context.Context, selector string) (schemas.ElementHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.queryLog = append(d.queryLog, selector)
	if err, ok := d.QueryErr[selector]; ok {
		return nil, err
	}
	if el, ok := d.Elements[selector]; ok {
		return el, nil
	}
	return nil, schemas.ErrNoMatch
}

func (d *FakeDriver) Click(ctx context.Context, selector string) error {
	handle, err := d.Query(ctx, selector)
	if err != nil {
		return err
	}
	return handle.Click(ctx)
}

func (d *FakeDriver) Fill(ctx context.Context, selector, text string) error {
	handle, err := d.Query(ctx, selector)
	if err != nil {
		return err
	}
	return handle.Fill(ctx, text)
}

func (d *FakeDriver) PressKey(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pressedKeys = append(d.pressedKeys, key)
	return nil
}

func (d *FakeDriver) BringToFront(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fronted++
	return nil
}

func (d *FakeDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// SetHTML swaps the page content.
func (d *FakeDriver) SetHTML(html string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.HTML = html
}

// SetURL swaps the current URL without recording a navigation.
func (d *FakeDriver) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.URL = url
}

// QueryLog returns every selector queried so far.
func (d *FakeDriver) QueryLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.queryLog...)
}

// NavigateLog returns every URL navigated to.
func (d *FakeDriver) NavigateLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigateLog...)
}

// PressedKeys returns every key dispatched.
func (d *FakeDriver) PressedKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.pressedKeys...)
}

// Reloads reports how many times the page was reloaded.
func (d *FakeDriver) Reloads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reloads
}

// BroughtToFront reports how many times the window was surfaced.
func (d *FakeDriver) BroughtToFront() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fronted
}

// Closed reports whether Close was called.
func (d *FakeDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
