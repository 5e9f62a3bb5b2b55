package altsource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/eversale-agent/internal/config"
)

const (
	// maxSampleBytes caps how much of a probed page is read. Alternative
	// sources only need to yield a readable sample, not the full asset tree.
	maxSampleBytes = 512 * 1024

	maxSnippetRunes = 2000

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

	// probeBurst matches the widest swarm fan-out so all explorations can
	// start without queueing behind the limiter.
	probeBurst = 4
)

// PageSample is what a probe learned about a URL without spending a browser
// tab on it.
type PageSample struct {
	RequestURL  string    `json:"request_url"`
	FinalURL    string    `json:"final_url"`
	StatusCode  int       `json:"status_code"`
	Title       string    `json:"title,omitempty"`
	TextSnippet string    `json:"text_snippet,omitempty"`
	HTML        string    `json:"-"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Usable reports whether the sample can stand in for a blocked page. Status
// must be OK and the page must carry more text than an interstitial shell.
func (s *PageSample) Usable() bool {
	return s != nil && s.StatusCode == http.StatusOK && len(s.TextSnippet) >= 40
}

// Prober fetches alternative views of blocked content over plain HTTP:
// search-engine results, web caches, archive snapshots, mobile mirrors.
// Requests are paced by a shared rate limiter so a four-way swarm cannot
// hammer a host that is already rate limiting us.
type Prober struct {
	logger    *zap.Logger
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

func NewProber(cfg config.ResolverConfig, logger *zap.Logger) *Prober {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.ProbesPerSecond
	if rps <= 0 {
		rps = 1
	}

	return &Prober{
		logger: logger.Named("altsource_prober"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: newDecompressingTransport(nil),
		},
		limiter:   rate.NewLimiter(rate.Limit(rps), probeBurst),
		userAgent: defaultUserAgent,
	}
}

// Fetch retrieves one URL and distills it into a PageSample. Non-2xx
// statuses are not errors; the caller inspects StatusCode and Usable().
func (p *Prober) Fetch(ctx context.Context, rawURL string) (*PageSample, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("probe rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSampleBytes))
	if err != nil {
		return nil, fmt.Errorf("reading probe body from %s: %w", rawURL, err)
	}

	sample := &PageSample{
		RequestURL: rawURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		HTML:       string(body),
		FetchedAt:  time.Now().UTC(),
	}
	sample.Title, sample.TextSnippet = extractReadable(body)

	p.logger.Debug("Probe complete",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.String("title", sample.Title),
	)
	return sample, nil
}

// extractReadable pulls the title and the visible text out of an HTML body.
// Script, style and embedded frames are skipped; whitespace collapses to
// single spaces.
func extractReadable(body []byte) (title, snippet string) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}

	var sb strings.Builder
	var walk func(n *html.Node, inTitle bool)
	walk = func(n *html.Node, inTitle bool) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template", "iframe":
				return
			case "title":
				inTitle = true
			}
		case html.TextNode:
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if inTitle {
					if title == "" {
						title = text
					}
				} else {
					sb.WriteString(text)
					sb.WriteByte(' ')
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inTitle)
		}
	}
	walk(doc, false)

	snippet = strings.Join(strings.Fields(sb.String()), " ")
	if runes := []rune(snippet); len(runes) > maxSnippetRunes {
		snippet = string(runes[:maxSnippetRunes])
	}
	return title, snippet
}

// GoogleCacheURL returns the Google cache view of target.
func GoogleCacheURL(target string) string {
	return "https://webcache.googleusercontent.com/search?q=cache:" + url.QueryEscape(target)
}

// WaybackURL returns the Wayback Machine redirect entry for the newest
// snapshot of target.
func WaybackURL(target string) string {
	return "https://web.archive.org/web/" + target
}

// MobileURL rewrites target to the conventional m. subdomain. Returns false
// when target has no host or already points at a mobile mirror.
func MobileURL(target string) (string, bool) {
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "m" || strings.HasPrefix(host, "m.") {
		return "", false
	}
	host = strings.TrimPrefix(host, "www.")

	u.Host = "m." + host
	return u.String(), true
}
