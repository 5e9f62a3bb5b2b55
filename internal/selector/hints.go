package selector

import (
	"regexp"
	"strings"
)

// Hints are the semantic scraps recovered from a broken logical selector.
// They fuel the fallback strategies: a selector like
// `button.submit-btn:has-text('Sign up')` yields the quoted text "Sign up",
// the token "submit-btn", a button role, and the button tag.
type Hints struct {
	Quoted []string // quoted literals, usually visible text
	Tokens []string // class/id/attribute words worth probing
	Role   string   // inferred ARIA role: "button", "link", "textbox" or ""
	Tag    string   // leading tag name when the selector starts with one
}

var (
	quotedRe     = regexp.MustCompile(`'([^']+)'|"([^"]+)"`)
	tokenRe      = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_-]{2,}`)
	leadingTagRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*`)
)

// knownTags are element names a selector may legitimately start with.
var knownTags = map[string]bool{
	"a": true, "button": true, "input": true, "textarea": true,
	"select": true, "form": true, "label": true, "div": true,
	"span": true, "img": true, "iframe": true, "ul": true, "ol": true,
	"li": true, "table": true, "nav": true, "header": true,
	"footer": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true,
}

// tokenStopwords are selector machinery, not semantic hints.
var tokenStopwords = map[string]bool{
	"has-text": true, "nth-child": true, "nth-of-type": true,
	"first-child": true, "last-child": true, "not": true, "hover": true,
	"focus": true, "visible": true, "checked": true, "disabled": true,
	"data-testid": true, "data-test-id": true, "data-test": true,
	"data-cy": true, "aria-label": true, "class": true, "type": true,
	"href": true, "role": true, "name": true, "value": true,
	"true": true, "false": true,
}

// role keyword families, checked in order. Button wins over textbox so
// `input[type=submit]` infers button, not textbox.
var (
	buttonWords  = []string{"btn", "button", "submit", "cta"}
	linkWords    = []string{"link", "anchor", "href", "nav-item"}
	textboxWords = []string{"input", "field", "textbox", "textarea", "search", "email", "password", "username", "query"}
)

// Extract distills hints from a logical selector.
func Extract(logicalSelector string) Hints {
	h := Hints{}

	// Quoted literals first; they are the strongest signal.
	seenQuoted := map[string]bool{}
	for _, m := range quotedRe.FindAllStringSubmatch(logicalSelector, -1) {
		text := m[1]
		if text == "" {
			text = m[2]
		}
		text = strings.TrimSpace(text)
		if text != "" && !seenQuoted[text] {
			seenQuoted[text] = true
			h.Quoted = append(h.Quoted, text)
		}
	}

	// Strip quoted sections so their words do not reappear as tokens.
	rest := quotedRe.ReplaceAllString(logicalSelector, " ")

	// Leading tag name. Anchored so single-letter tags like "a" count.
	if m := leadingTagRe.FindString(strings.TrimSpace(rest)); m != "" && knownTags[strings.ToLower(m)] {
		h.Tag = strings.ToLower(m)
	}

	// Class, id and attribute words.
	seenToken := map[string]bool{}
	for _, tok := range tokenRe.FindAllString(rest, -1) {
		lower := strings.ToLower(tok)
		if knownTags[lower] || tokenStopwords[lower] || seenToken[lower] {
			continue
		}
		seenToken[lower] = true
		h.Tokens = append(h.Tokens, tok)
	}

	h.Role = inferRole(strings.ToLower(logicalSelector))
	return h
}

// TextNeedles returns the strings worth matching against visible text:
// quoted literals when present, otherwise the wordiest tokens.
func (h Hints) TextNeedles() []string {
	if len(h.Quoted) > 0 {
		return h.Quoted
	}

	var needles []string
	for _, tok := range h.Tokens {
		if len(needles) == 3 {
			break
		}
		// Only plain words read like visible text; "btn-primary" does not.
		if len(tok) >= 4 && !strings.ContainsAny(tok, "-_0123456789") {
			needles = append(needles, tok)
		}
	}
	return needles
}

func inferRole(lowerSelector string) string {
	for _, w := range buttonWords {
		if strings.Contains(lowerSelector, w) {
			return "button"
		}
	}
	for _, w := range linkWords {
		if strings.Contains(lowerSelector, w) {
			return "link"
		}
	}
	for _, w := range textboxWords {
		if strings.Contains(lowerSelector, w) {
			return "textbox"
		}
	}
	return ""
}

// sanitizeNeedle strips quote characters so a hint can be embedded in a
// generated selector without breaking it.
func sanitizeNeedle(s string) string {
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.ReplaceAll(s, `'`, "")
	return strings.TrimSpace(s)
}
