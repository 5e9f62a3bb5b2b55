// Package snapshot condenses a live page into something a language model can
// reason about: sanitized markdown prose plus an inventory of interactive
// elements with stable selectors.
package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/browser/dom"
	"github.com/xkilldash9x/eversale-agent/internal/llmutil"
)

// Element is one interactive affordance the planner can act on.
type Element struct {
	Role     string `json:"role"`               // button, link, textbox, select, checkbox
	Text     string `json:"text,omitempty"`     // visible text or accessible label
	Selector string `json:"selector"`           // best available CSS selector
	Name     string `json:"name,omitempty"`     // form field name when present
	Value    string `json:"value,omitempty"`    // current value for inputs
	Disabled bool   `json:"disabled,omitempty"` // true when the element cannot be used
}

// Snapshot is one compressed view of the current page.
type Snapshot struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Markdown      string    `json:"markdown"`
	Elements      []Element `json:"elements"`
	TokenEstimate int       `json:"token_estimate"`
}

const (
	// maxMarkdownRunes bounds the prose section of the snapshot. Pages carry
	// far more text than a planner needs; the interactive inventory matters
	// more than the tail of the article.
	maxMarkdownRunes = 6000

	// maxElements bounds the inventory. Link farms and mega-menus would
	// otherwise drown the signal.
	maxElements = 60

	maxElementTextRunes = 80
)

// Compressor turns raw page HTML into Snapshots. Safe for concurrent use.
type Compressor struct {
	logger    *zap.Logger
	sanitizer *bluemonday.Policy
	converter *converter.Converter
}

func NewCompressor(logger *zap.Logger) *Compressor {
	// UGC policy strips scripts, styles, and event handlers but keeps the
	// structural and text content the markdown conversion needs.
	return &Compressor{
		logger:    logger.Named("snapshot"),
		sanitizer: bluemonday.UGCPolicy(),
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// Capture reads the live page from the driver and compresses it.
func (c *Compressor) Capture(ctx context.Context, driver schemas.BrowserDriver) (*Snapshot, error) {
	content, err := driver.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading page content: %w", err)
	}
	url, err := driver.CurrentURL(ctx)
	if err != nil {
		c.logger.Debug("Could not read current URL for snapshot", zap.Error(err))
	}
	title, err := driver.Title(ctx)
	if err != nil {
		c.logger.Debug("Could not read page title for snapshot", zap.Error(err))
	}
	return c.Compress(content, url, title), nil
}

// Compress builds a Snapshot from raw HTML. It never fails: conversion
// errors degrade to a plain-text extraction.
func (c *Compressor) Compress(rawHTML, url, title string) *Snapshot {
	elements := c.harvestElements(rawHTML)

	sanitized := c.sanitizer.Sanitize(rawHTML)
	markdown, err := c.converter.ConvertString(sanitized)
	if err != nil {
		c.logger.Debug("Markdown conversion failed, falling back to text extraction", zap.Error(err))
		markdown = extractText(sanitized)
	}
	markdown = truncateRunes(collapseBlankLines(markdown), maxMarkdownRunes)

	snap := &Snapshot{
		URL:      url,
		Title:    title,
		Markdown: markdown,
		Elements: elements,
	}
	snap.TokenEstimate = llmutil.EstimateTokens(snap.PromptBlock())
	return snap
}

// PromptBlock renders the snapshot as the page-state section of a planner
// prompt.
func (s *Snapshot) PromptBlock() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\nTitle: %s\n", s.URL, s.Title)

	if len(s.Elements) > 0 {
		sb.WriteString("\nInteractive elements:\n")
		for _, el := range s.Elements {
			fmt.Fprintf(&sb, "- [%s] %q selector=%s", el.Role, el.Text, el.Selector)
			if el.Name != "" {
				fmt.Fprintf(&sb, " name=%s", el.Name)
			}
			if el.Disabled {
				sb.WriteString(" (disabled)")
			}
			sb.WriteByte('\n')
		}
	}

	if s.Markdown != "" {
		sb.WriteString("\nPage content:\n")
		sb.WriteString(s.Markdown)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// harvestElements walks the DOM for interactive elements, preferring the
// most stable selector available for each: #id, then [name=], then
// [data-testid=], then tag plus first class, then a positional CSS path.
func (c *Compressor) harvestElements(rawHTML string) []Element {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		c.logger.Debug("HTML parse failed, snapshot carries no element inventory", zap.Error(err))
		return nil
	}

	var out []Element
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(out) >= maxElements {
			return
		}
		if n.Type == html.ElementNode {
			if el, ok := elementFromNode(n); ok {
				out = append(out, el)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return out
}

func elementFromNode(n *html.Node) (Element, bool) {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[strings.ToLower(a.Key)] = a.Val
	}

	role := inferRole(n.Data, attrs)
	if role == "" {
		return Element{}, false
	}
	if attrs["type"] == "hidden" {
		return Element{}, false
	}

	text := strings.TrimSpace(nodeText(n))
	if text == "" {
		text = strings.TrimSpace(attrs["aria-label"])
	}
	if text == "" {
		text = strings.TrimSpace(attrs["placeholder"])
	}
	text = truncateRunes(strings.Join(strings.Fields(text), " "), maxElementTextRunes)

	_, disabled := attrs["disabled"]
	return Element{
		Role:     role,
		Text:     text,
		Selector: buildSelector(n, attrs),
		Name:     attrs["name"],
		Value:    attrs["value"],
		Disabled: disabled,
	}, true
}

// inferRole maps a tag and its attributes to the planner-facing role
// vocabulary. Non-interactive elements map to "".
func inferRole(tag string, attrs map[string]string) string {
	if explicit := attrs["role"]; explicit != "" {
		switch explicit {
		case "button", "link", "textbox", "checkbox", "combobox", "searchbox":
			return explicit
		}
	}

	switch tag {
	case "a":
		if attrs["href"] != "" {
			return "link"
		}
	case "button":
		return "button"
	case "select":
		return "select"
	case "textarea":
		return "textbox"
	case "input":
		switch attrs["type"] {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		default:
			return "textbox"
		}
	}
	return ""
}

func buildSelector(n *html.Node, attrs map[string]string) string {
	tag := n.Data
	if id := attrs["id"]; id != "" && !strings.ContainsAny(id, " \t\"'") {
		return "#" + id
	}
	if name := attrs["name"]; name != "" {
		return fmt.Sprintf(`%s[name="%s"]`, tag, name)
	}
	if tid := attrs["data-testid"]; tid != "" {
		return fmt.Sprintf(`[data-testid="%s"]`, tid)
	}
	if class := attrs["class"]; class != "" {
		if first := strings.Fields(class); len(first) > 0 {
			return tag + "." + first[0]
		}
	}
	// No stable attribute at all: fall back to a positional path so the
	// planner still gets something uniquely addressable.
	if path := dom.CSSPath(n); path != "" {
		return path
	}
	return tag
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			return
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}

// extractText is the degraded path when markdown conversion fails: strip
// every tag and keep the text nodes.
func extractText(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				sb.WriteString(trimmed)
				sb.WriteByte('\n')
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return sb.String()
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
