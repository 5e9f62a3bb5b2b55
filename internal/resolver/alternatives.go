package resolver

import (
	"fmt"
	"net/url"
)

// alternativeSource is one fallback site that can answer a query when the
// primary site stays blocked.
type alternativeSource struct {
	Name      string
	SearchURL string // fmt template, %s is the escaped query
}

// URL renders the search URL for a query.
func (a alternativeSource) URL(query string) string {
	return fmt.Sprintf(a.SearchURL, url.QueryEscape(query))
}

// siteAlternatives maps a blocked site's domain to ordered fallbacks known
// to carry overlapping data.
var siteAlternatives = map[string][]alternativeSource{
	"crunchbase.com": {
		{"linkedin", "https://www.linkedin.com/search/results/companies/?keywords=%s"},
		{"google", "https://www.google.com/search?q=%s"},
		{"duckduckgo", "https://duckduckgo.com/html/?q=%s"},
	},
	"linkedin.com": {
		{"google", "https://www.google.com/search?q=%s+site%%3Alinkedin.com"},
		{"duckduckgo", "https://duckduckgo.com/html/?q=%s"},
	},
	"glassdoor.com": {
		{"google", "https://www.google.com/search?q=%s+reviews"},
		{"duckduckgo", "https://duckduckgo.com/html/?q=%s+reviews"},
	},
	"zoominfo.com": {
		{"linkedin", "https://www.linkedin.com/search/results/companies/?keywords=%s"},
		{"google", "https://www.google.com/search?q=%s"},
	},
}

// defaultAlternatives serve any site without a dedicated entry.
var defaultAlternatives = []alternativeSource{
	{"google", "https://www.google.com/search?q=%s"},
	{"duckduckgo", "https://duckduckgo.com/html/?q=%s"},
	{"bing", "https://www.bing.com/search?q=%s"},
}

func alternativesFor(domain string) []alternativeSource {
	if alts, ok := siteAlternatives[domain]; ok {
		return alts
	}
	return defaultAlternatives
}
