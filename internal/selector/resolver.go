package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/browser/dom"
	"github.com/xkilldash9x/eversale-agent/internal/urlutil"
)

// Strategy names, in the order the chain runs them.
const (
	StrategyExact       = "exact"
	StrategyDataTestID  = "data_testid"
	StrategyAriaLabel   = "aria_label"
	StrategyRoleText    = "role_text"
	StrategyTextContent = "text_content"
	StrategyStructure   = "xpath_structure"
)

// cachedConfidence applies to validated cache hits regardless of the
// strategy that originally healed the selector.
const cachedConfidence = 0.9

// Match describes how an element was located.
type Match struct {
	Handle     schemas.ElementHandle
	Selector   string // concrete selector that matched
	Strategy   string
	Confidence float64
	Cached     bool
}

// Resolver heals broken selectors. When the exact selector fails it walks a
// fixed chain of cheaper-to-more-speculative strategies built from hints in
// the original selector, and caches whatever worked for the next visit to
// the same domain.
type Resolver struct {
	driver schemas.BrowserDriver
	cache  *Cache
	logger *zap.Logger
}

func NewResolver(driver schemas.BrowserDriver, cache *Cache, logger *zap.Logger) *Resolver {
	return &Resolver{
		driver: driver,
		cache:  cache,
		logger: logger.Named("selector_resolver"),
	}
}

// Find locates the element for a logical selector, healing it if necessary.
// The optional description is extra evidence for the text-based strategies.
// Returns an error wrapping schemas.ErrNoMatch when every strategy misses;
// individual probe failures are swallowed.
func (r *Resolver) Find(ctx context.Context, logicalSelector, description string) (*Match, error) {
	currentURL, err := r.driver.CurrentURL(ctx)
	if err != nil {
		r.logger.Debug("Could not read current URL, healing without cache context", zap.Error(err))
		currentURL = ""
	}
	domain := urlutil.SiteDomain(currentURL)
	selectorHash := dom.HashString(logicalSelector)

	// Cache first: trust the stored working selector only if the element it
	// finds still has the recorded shape.
	if entry, ok := r.cache.Get(domain, selectorHash); ok {
		if handle, ok := r.probe(ctx, entry.WorkingSelector); ok {
			if dom.Signature(handle.Facts()) == entry.ElementSignature {
				r.cache.RecordHit(domain, selectorHash)
				r.logger.Debug("Selector cache hit",
					zap.String("selector", logicalSelector),
					zap.String("working_selector", entry.WorkingSelector),
					zap.String("strategy", entry.Strategy),
				)
				return &Match{
					Handle:     handle,
					Selector:   entry.WorkingSelector,
					Strategy:   entry.Strategy,
					Confidence: cachedConfidence,
					Cached:     true,
				}, nil
			}
			r.logger.Debug("Cached selector matches a different element now, bypassing",
				zap.String("selector", logicalSelector),
				zap.String("working_selector", entry.WorkingSelector),
			)
		}
	}

	hints := Extract(logicalSelector)
	needles := hints.TextNeedles()
	if description != "" {
		needles = appendUnique(needles, description)
	}

	strategies := []struct {
		name       string
		confidence float64
		probes     []string
	}{
		{StrategyExact, 1.0, []string{logicalSelector}},
		{StrategyDataTestID, 0.85, r.testIDProbes(hints)},
		{StrategyAriaLabel, 0.8, r.ariaLabelProbes(hints)},
		{StrategyRoleText, 0.65, r.roleProbes(hints, needles)},
		{StrategyTextContent, 0.7, r.textProbes(needles)},
		{StrategyStructure, 0.5, r.structureProbes(hints)},
	}

	for _, strat := range strategies {
		for _, probeSelector := range strat.probes {
			handle, ok := r.probe(ctx, probeSelector)
			if !ok {
				continue
			}

			entry := CacheEntry{
				WorkingSelector:  probeSelector,
				Strategy:         strat.name,
				PathPattern:      urlutil.GeneralizePath(currentURL),
				SuccessCount:     1,
				LastSuccess:      time.Now().UTC(),
				ElementSignature: dom.Signature(handle.Facts()),
			}
			r.cache.Put(domain, selectorHash, entry)

			if strat.name != StrategyExact {
				r.logger.Info("Selector healed",
					zap.String("selector", logicalSelector),
					zap.String("working_selector", probeSelector),
					zap.String("strategy", strat.name),
					zap.String("domain", domain),
				)
			}

			return &Match{
				Handle:     handle,
				Selector:   probeSelector,
				Strategy:   strat.name,
				Confidence: strat.confidence,
				Cached:     false,
			}, nil
		}
	}

	return nil, fmt.Errorf("all healing strategies exhausted for %q: %w", logicalSelector, schemas.ErrNoMatch)
}

// probe runs one driver query, swallowing failures. A failed probe only
// means "try the next one".
func (r *Resolver) probe(ctx context.Context, sel string) (schemas.ElementHandle, bool) {
	if sel == "" {
		return nil, false
	}

	handle, err := r.driver.Query(ctx, sel)
	if err != nil {
		if !errors.Is(err, schemas.ErrNoMatch) {
			r.logger.Debug("Selector probe failed", zap.String("probe", sel), zap.Error(err))
		}
		return nil, false
	}
	return handle, true
}

var testIDAttributes = []string{"data-testid", "data-test-id", "data-cy", "data-test"}

func (r *Resolver) testIDProbes(hints Hints) []string {
	var probes []string
	for _, token := range capped(hints.Tokens, 4) {
		needle := sanitizeNeedle(token)
		if needle == "" {
			continue
		}
		for _, attr := range testIDAttributes {
			probes = append(probes, fmt.Sprintf(`[%s*="%s"]`, attr, needle))
		}
	}
	return probes
}

func (r *Resolver) ariaLabelProbes(hints Hints) []string {
	var probes []string
	for _, needle := range capped(append(append([]string{}, hints.Quoted...), hints.Tokens...), 5) {
		needle = sanitizeNeedle(needle)
		if needle == "" {
			continue
		}
		probes = append(probes, fmt.Sprintf(`[aria-label*="%s" i]`, needle))
	}
	return probes
}

// nativeTagsForRole maps an inferred role to the element types that carry it
// implicitly.
var nativeTagsForRole = map[string][]string{
	"button":  {"button", `input[type="submit"]`, `input[type="button"]`},
	"link":    {"a"},
	"textbox": {"input", "textarea"},
}

func (r *Resolver) roleProbes(hints Hints, needles []string) []string {
	if hints.Role == "" {
		return nil
	}

	var probes []string
	native := nativeTagsForRole[hints.Role]

	// Text-qualified probes first; they are far more precise.
	if hints.Role != "textbox" {
		for _, needle := range capped(needles, 2) {
			needle = sanitizeNeedle(needle)
			if needle == "" {
				continue
			}
			if len(native) > 0 {
				probes = append(probes, fmt.Sprintf(`%s:has-text('%s')`, native[0], needle))
			}
			probes = append(probes, fmt.Sprintf(`[role="%s"]:has-text('%s')`, hints.Role, needle))
		}
	}

	probes = append(probes, native...)
	probes = append(probes, fmt.Sprintf(`[role="%s"]`, hints.Role))
	return probes
}

func (r *Resolver) textProbes(needles []string) []string {
	var probes []string
	for _, needle := range capped(needles, 3) {
		needle = sanitizeNeedle(needle)
		if needle == "" {
			continue
		}
		probes = append(probes,
			fmt.Sprintf(`button:has-text('%s')`, needle),
			fmt.Sprintf(`a:has-text('%s')`, needle),
			fmt.Sprintf(`[role="button"]:has-text('%s')`, needle),
			fmt.Sprintf(`label:has-text('%s')`, needle),
			fmt.Sprintf(`*:has-text('%s')`, needle),
		)
	}
	return probes
}

var interactiveTags = map[string]bool{
	"button": true, "input": true, "a": true, "textarea": true,
	"select": true, "form": true, "label": true,
}

func (r *Resolver) structureProbes(hints Hints) []string {
	var probes []string
	if hints.Tag != "" && interactiveTags[hints.Tag] {
		probes = append(probes, hints.Tag)
	}

	switch hints.Role {
	case "button":
		probes = append(probes, ".btn", ".button", "button", `input[type="submit"]`, `[type="submit"]`)
	case "textbox":
		probes = append(probes, `input[type="text"]`, "input", "textarea")
	case "link":
		probes = append(probes, "a")
	default:
		probes = append(probes, "button", `input[type="submit"]`, ".btn", "input")
	}
	return dedupe(probes)
}

func capped(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func appendUnique(items []string, s string) []string {
	for _, existing := range items {
		if existing == s {
			return items
		}
	}
	return append(items, s)
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, s := range items {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
