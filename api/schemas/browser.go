package schemas

import (
	"context"
	"errors"
)

// ErrNoMatch is returned by BrowserDriver.Query when no visible element
// matches the selector. Callers treat it as "try something else", not as a
// driver failure.
var ErrNoMatch = errors.New("no visible element matches selector")

// ElementFacts is the shape of a matched element at query time. It is the
// input to element fingerprinting: two elements with the same facts are
// considered the same element across page versions.
type ElementFacts struct {
	Tag         string   `json:"tag"`
	Type        string   `json:"type,omitempty"`
	Role        string   `json:"role,omitempty"`
	AriaLabel   string   `json:"aria_label,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	ID          string   `json:"id,omitempty"`
	Classes     []string `json:"classes,omitempty"`
	Text        string   `json:"text,omitempty"`
}

// ElementHandle is a live reference to one matched element. Handles are only
// valid against the page state they were queried from; callers re-query after
// navigation.
type ElementHandle interface {
	// Selector returns the concrete selector that located this element.
	Selector() string
	// Facts returns the element's shape as observed at query time.
	Facts() ElementFacts
	// Click clicks the element.
	Click(ctx context.Context) error
	// Fill replaces the element's value with text.
	Fill(ctx context.Context, text string) error
}

// BrowserDriver is the single capability interface the reliability core
// depends on. Concrete implementations exist per backend (direct CDP, MCP
// tool server); the core never manages browser lifecycle beyond Close.
//
// Query selectors are CSS, optionally suffixed with a `:has-text('needle')`
// filter that narrows matches to elements whose visible text contains the
// needle case-insensitively. Only visible elements match.
type BrowserDriver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// Content returns the full serialized HTML of the current page.
	Content(ctx context.Context) (string, error)
	// Query returns the first visible element matching selector, or
	// ErrNoMatch.
	Query(ctx context.Context, selector string) (ElementHandle, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, text string) error
	// PressKey dispatches a keyboard key by DOM key name, e.g. "Escape".
	PressKey(ctx context.Context, key string) error
	// BringToFront surfaces the browser window for human escalation.
	BringToFront(ctx context.Context) error
	Close(ctx context.Context) error
}
