package resolver

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/altsource"
	"github.com/xkilldash9x/eversale-agent/internal/config"
	"github.com/xkilldash9x/eversale-agent/internal/mocks"
	"github.com/xkilldash9x/eversale-agent/internal/obstruction"
	"github.com/xkilldash9x/eversale-agent/internal/wisdom"
)

const blockedURL = "https://www.example.com/pricing"

// fastResolverConfig shrinks every wait so layer transitions happen in
// milliseconds instead of minutes.
func fastResolverConfig() config.ResolverConfig {
	return config.ResolverConfig{
		MaxResolveTime:         5 * time.Second,
		HumanTimeout:           30 * time.Millisecond,
		EscalationPollInterval: 5 * time.Millisecond,
		SwarmTimeout:           time.Second,
		SwarmLimit:             4,
		CloudflarePollInterval: 5 * time.Millisecond,
		CloudflarePollBudget:   30 * time.Millisecond,
		RateLimitBackoff:       []time.Duration{time.Millisecond, 2 * time.Millisecond},
	}
}

type fakeLLM struct {
	response string
	err      error
	calls    atomic.Int32
}

func (f *fakeLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) Close() error { return nil }

// fakeFetcher serves canned samples keyed by a substring of the request URL.
type fakeFetcher struct {
	samples map[string]*altsource.PageSample // substring -> sample
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*altsource.PageSample, error) {
	for needle, sample := range f.samples {
		if needle != "" && strings.Contains(rawURL, needle) {
			out := *sample
			if out.RequestURL == "" {
				out.RequestURL = rawURL
			}
			if out.FinalURL == "" {
				out.FinalURL = rawURL
			}
			return &out, nil
		}
	}
	return nil, errors.New("host unreachable")
}

func usableSample(title, snippet string) *altsource.PageSample {
	return &altsource.PageSample{
		StatusCode:  200,
		Title:       title,
		TextSnippet: snippet,
		FetchedAt:   time.Now().UTC(),
	}
}

func newTestResolver(t *testing.T, driver schemas.BrowserDriver, opts ...func(*Deps)) (*Resolver, *wisdom.Store) {
	t.Helper()

	store := wisdom.NewStore(t.TempDir(), zap.NewNop())
	deps := Deps{
		Driver:   driver,
		Detector: obstruction.NewDetector(zap.NewNop()),
		Wisdom:   store,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	r, err := New(fastResolverConfig(), deps, zap.NewNop())
	require.NoError(t, err)
	return r, store
}

func TestNew_RequiresCoreDeps(t *testing.T) {
	driver := mocks.NewFakeDriver(blockedURL)
	detector := obstruction.NewDetector(zap.NewNop())
	store := wisdom.NewStore(t.TempDir(), zap.NewNop())

	_, err := New(fastResolverConfig(), Deps{Detector: detector, Wisdom: store}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(fastResolverConfig(), Deps{Driver: driver, Wisdom: store}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(fastResolverConfig(), Deps{Driver: driver, Detector: detector}, zap.NewNop())
	assert.Error(t, err)
}

func TestResolve_CleanPageNeedsNothing(t *testing.T) {
	driver := mocks.NewFakeDriver(blockedURL)
	driver.SetHTML(`<html><body><h1>Product pricing</h1></body></html>`)
	r, _ := newTestResolver(t, driver)

	result := r.Resolve(context.Background(), `<h1>Product pricing</h1>`, blockedURL, "", 0)

	assert.True(t, result.Success)
	assert.Equal(t, StrategyNoneNeeded, result.ResolutionStrategy)
	assert.Equal(t, 0, result.LayerUsed)
	assert.True(t, result.ShouldContinue)
	assert.Empty(t, result.Attempts)
}

func TestResolve_CookieConsentClearedAtLayerOne(t *testing.T) {
	driver := mocks.NewFakeDriver(blockedURL)
	// A banner whose only copy is "Accept cookies" and whose button says just
	// "Accept": detection and dismissal both ride the generic fallbacks.
	btn := driver.AddElement(`button:has-text('accept')`, schemas.ElementFacts{Tag: "button", Text: "Accept"})
	r, store := newTestResolver(t, driver)

	content := `<div class="banner">Accept cookies to keep browsing. <button>Accept</button></div>`
	result := r.Resolve(context.Background(), content, blockedURL, "", 0)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.LayerUsed)
	assert.Equal(t, StrategyClickConsent, result.ResolutionStrategy)
	assert.True(t, result.ShouldContinue)
	assert.Equal(t, obstruction.TypeCookieConsent, result.ObstructionType)
	assert.Equal(t, 1, btn.Clicks())

	// The win lands in the wisdom store immediately.
	sig := obstruction.NewDetector(zap.NewNop()).Detect(content, blockedURL)
	require.NotNil(t, sig)
	pattern, ok := store.Get(sig.Hash())
	require.True(t, ok)
	assert.Equal(t, StrategyClickConsent, pattern.Strategy)
	assert.Equal(t, 1, pattern.Layer)
	assert.Equal(t, 1, pattern.SuccessCount)
}

func TestResolve_RateLimitBackoffStopsAtLayerTwo(t *testing.T) {
	driver := mocks.NewFakeDriver(blockedURL)
	driver.SetHTML(`<p>Too many requests. Please slow down.</p>`)
	// The first reload clears the rate limit.
	driver.ReloadFunc = func() {
		driver.SetHTML(`<h1>Pricing</h1><p>All plans include support.</p>`)
	}
	r, _ := newTestResolver(t, driver)

	result := r.Resolve(context.Background(), `Too many requests. Please slow down.`, blockedURL, "", 0)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.LayerUsed)
	assert.Equal(t, StrategyRateLimitBackoff, result.ResolutionStrategy)
	assert.True(t, result.ShouldContinue)

	// Exactly one successful attempt, at layer 2, and nothing beyond.
	var successes int
	for _, a := range result.Attempts {
		if a.Success {
			successes++
			assert.Equal(t, 2, a.Layer)
		}
		assert.LessOrEqual(t, a.Layer, 2)
	}
	assert.Equal(t, 1, successes)
	assert.GreaterOrEqual(t, driver.Reloads(), 1)
}

func TestResolve_AlternativeSourceAnswersQuery(t *testing.T) {
	driver := mocks.NewFakeDriver("https://www.crunchbase.com/organization/acme")
	driver.SetHTML(`<p>Sorry, you have been blocked. Cloudflare Ray ID: 1234</p>`)
	fetcher := &fakeFetcher{samples: map[string]*altsource.PageSample{
		"linkedin.com": usableSample("Acme Corp | LinkedIn", "Acme Corp is a manufacturer of industrial anvils with 200 employees."),
	}}
	r, _ := newTestResolver(t, driver, func(d *Deps) { d.Fetcher = fetcher })

	result := r.Resolve(context.Background(),
		`Sorry, you have been blocked. Cloudflare Ray ID: 1234`,
		"https://www.crunchbase.com/organization/acme", "Acme Corp", 0)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.LayerUsed)
	assert.Equal(t, StrategyAlternativeSource, result.ResolutionStrategy)
	require.NotNil(t, result.AlternativeData)
	assert.Equal(t, "linkedin", result.AlternativeData["source"])
	assert.Contains(t, result.AlternativeData["snippet"], "industrial anvils")
}

func TestResolve_AIReasoningClicksSuggestedSelector(t *testing.T) {
	driver := mocks.NewFakeDriver(blockedURL)
	closeBtn := driver.AddElement("#gate-close", schemas.ElementFacts{Tag: "button"})
	blocked := `<div>Sign in to continue</div>`
	driver.ContentFunc = func() string {
		if closeBtn.Clicks() > 0 {
			return `<h1>Pricing</h1><p>Welcome back.</p>`
		}
		return blocked
	}
	llm := &fakeLLM{response: `{"actions":[{"type":"click","selector":"#gate-close"}],"reasoning":"dismiss the login gate"}`}
	r, _ := newTestResolver(t, driver, func(d *Deps) { d.LLM = llm })

	result := r.Resolve(context.Background(), blocked, blockedURL, "", 0)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.LayerUsed)
	assert.Equal(t, StrategyAIReasoning, result.ResolutionStrategy)
	assert.Equal(t, 1, closeBtn.Clicks())
	assert.Equal(t, int32(1), llm.calls.Load())
}

func TestResolve_SwarmFindsAlternativeView(t *testing.T) {
	driver := mocks.NewFakeDriver(blockedURL)
	blocked := `<p>Your IP has been banned.</p>`
	driver.SetHTML(blocked)
	// The shared page stays blocked even at the site root.
	driver.NavigateErr = errors.New("navigation refused")
	fetcher := &fakeFetcher{samples: map[string]*altsource.PageSample{
		"webcache.googleusercontent.com": usableSample("Pricing - Example", "Our pricing starts at $10 per seat per month for the basic plan."),
	}}
	r, _ := newTestResolver(t, driver, func(d *Deps) { d.Fetcher = fetcher })

	result := r.Resolve(context.Background(), blocked, blockedURL, "", 0)

	assert.True(t, result.Success)
	assert.Equal(t, 4, result.LayerUsed)
	assert.Equal(t, StrategySwarmGoogleCache, result.ResolutionStrategy)
	require.NotNil(t, result.AlternativeData)
	assert.Contains(t, result.AlternativeData["snippet"], "$10 per seat")
}

func TestResolve_HumanClearsObstruction(t *testing.T) {
	driver := mocks.NewFakeDriver(blockedURL)
	// Every exploration path is dead; only the live page matters, and a
	// human fixes it before the escalation window closes.
	driver.NavigateErr = errors.New("navigation refused")
	driver.SetHTML(`<h1>Pricing</h1><p>All good now.</p>`)
	r, _ := newTestResolver(t, driver)

	result := r.Resolve(context.Background(), `Please complete two-factor authentication.`, blockedURL, "", 0)

	assert.True(t, result.Success)
	assert.Equal(t, 5, result.LayerUsed)
	assert.Equal(t, StrategyHumanIntervention, result.ResolutionStrategy)
	assert.Equal(t, 1, driver.BroughtToFront())
}

func TestResolve_NeverGivesUp(t *testing.T) {
	// Everything fails: page stays blocked, no LLM, no fetcher, navigation
	// refused, nobody answers the escalation. The resolver must still come
	// back with ShouldContinue == true.
	blocked := `<p>Please complete two-factor authentication.</p>`
	driver := mocks.NewFakeDriver(blockedURL)
	driver.SetHTML(blocked)
	driver.NavigateErr = errors.New("navigation refused")
	r, _ := newTestResolver(t, driver)

	result := r.Resolve(context.Background(), blocked, blockedURL, "", 0)

	assert.False(t, result.Success)
	assert.True(t, result.ShouldContinue)
	assert.Equal(t, StrategyAutoContinue, result.ResolutionStrategy)
	assert.NotEmpty(t, result.Attempts)
}

func TestResolve_CancelledContextStillContinues(t *testing.T) {
	driver := mocks.NewFakeDriver(blockedURL)
	driver.SetHTML(`<p>Too many requests</p>`)
	r, _ := newTestResolver(t, driver)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := r.Resolve(ctx, `Too many requests`, blockedURL, "", 0)

	assert.False(t, result.Success)
	assert.True(t, result.ShouldContinue)
}

func TestResolve_FailuresAreRecordedAsWisdom(t *testing.T) {
	blocked := `<p>Please complete two-factor authentication.</p>`
	driver := mocks.NewFakeDriver(blockedURL)
	driver.SetHTML(blocked)
	driver.NavigateErr = errors.New("navigation refused")
	r, store := newTestResolver(t, driver)

	result := r.Resolve(context.Background(), blocked, blockedURL, "", 0)
	require.False(t, result.Success)

	sig := obstruction.NewDetector(zap.NewNop()).Detect(blocked, blockedURL)
	require.NotNil(t, sig)
	pattern, ok := store.Get(sig.Hash())
	require.True(t, ok)
	assert.Equal(t, 0, pattern.SuccessCount)
	assert.GreaterOrEqual(t, pattern.FailureCount, 1)
}

func TestResolve_DetectionIsDeterministic(t *testing.T) {
	detector := obstruction.NewDetector(zap.NewNop())
	content := `We use cookies. Accept all cookies or manage cookie preferences.`

	first := detector.Detect(content, blockedURL)
	require.NotNil(t, first)
	for i := 0; i < 10; i++ {
		again := detector.Detect(content, blockedURL)
		require.NotNil(t, again)
		assert.Equal(t, first.Type, again.Type)
		assert.Equal(t, first.Hash(), again.Hash())
	}
}
