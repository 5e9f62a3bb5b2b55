package urlutil

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// SiteDomain extracts the organizational domain (eTLD+1) from a raw URL.
// Subdomains collapse to the registered domain, so "shop.example.co.uk" and
// "www.example.co.uk" both map to "example.co.uk". Falls back to the bare
// hostname when the public suffix list cannot resolve it, and returns "" for
// URLs without a hostname.
func SiteDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		// Tolerate scheme-less input like "example.com/path".
		u, err = url.Parse("https://" + rawURL)
		if err != nil {
			return ""
		}
		hostname = strings.ToLower(u.Hostname())
		if hostname == "" {
			return ""
		}
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		// Bare hosts (localhost, raw IPs) have no eTLD+1.
		return hostname
	}
	return domain
}

// Hostname returns the lowercased host portion of a raw URL, tolerating
// scheme-less input. Returns "" when no host can be determined.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil && u.Hostname() != "" {
		return strings.ToLower(u.Hostname())
	}
	u, err = url.Parse("https://" + rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// GeneralizePath reduces a URL path to a reusable pattern by replacing
// volatile segments (numeric ids, hex ids, UUIDs) with "*". A selector
// learned on /users/8231/profile then applies to /users/77/profile.
func GeneralizePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	path := u.Path
	if path == "" || path == "/" {
		return "/"
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if isVolatileSegment(seg) {
			segments[i] = "*"
		}
	}
	return strings.Join(segments, "/")
}

// isVolatileSegment reports whether a path segment looks like a generated
// identifier rather than a route name.
func isVolatileSegment(seg string) bool {
	if seg == "" {
		return false
	}

	digits := 0
	hexOnly := true
	for _, r := range seg {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		case r == '-':
			// UUID separators.
		default:
			hexOnly = false
		}
	}

	// All-numeric segments are ids regardless of length.
	if digits == len(seg) {
		return true
	}
	// Hex-shaped segments need some length and at least one digit before we
	// call them ids, so route words like "add" or "feed" survive.
	return hexOnly && digits > 0 && len(seg) >= 8
}
