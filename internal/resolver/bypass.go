package resolver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/internal/obstruction"
)

// Layer 2: strategic bypass. Waiting games with refreshes, solver attempts,
// and sideways moves to alternative data sources.

var defaultRateLimitBackoff = []time.Duration{
	5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second,
}

func (r *Resolver) runStrategicBypass(ctx context.Context, sig *obstruction.Signature, query string) []Attempt {
	var attempts []Attempt

	switch sig.Type {
	case obstruction.TypeCloudflareJS, obstruction.TypeCloudflareTurnstile, obstruction.TypeCloudflareWAF:
		attempts = append(attempts, r.handleCloudflareChallenge(ctx, sig)...)
	case obstruction.TypeRateLimited:
		attempts = append(attempts, r.backOffRateLimit(ctx, sig)...)
	case obstruction.TypeRecaptchaV2, obstruction.TypeRecaptchaV3, obstruction.TypeHCaptcha, obstruction.TypeImageCaptcha:
		attempts = append(attempts, r.trySolveCaptcha(ctx, sig))
	}

	if _, ok := anySuccess(attempts); ok {
		return attempts
	}

	// Whatever the obstruction, a query means the caller wants data, not a
	// particular page. Alternative sources can often supply it directly.
	if query != "" {
		attempts = append(attempts, r.lookupAlternativeSources(ctx, sig, query)...)
	}
	return attempts
}

// handleCloudflareChallenge runs the wait-retry-refresh dance, then hands
// Turnstile challenges to the solver.
func (r *Resolver) handleCloudflareChallenge(ctx context.Context, sig *obstruction.Signature) []Attempt {
	start := time.Now()

	interval := r.cfg.CloudflarePollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	for round := 0; round < 2; round++ {
		if err := sleepCtx(ctx, interval); err != nil {
			return []Attempt{fail(StrategyWaitRetryRefresh, 2, start, err.Error())}
		}
		if err := r.driver.Reload(ctx); err != nil {
			r.logger.Debug("Reload failed during challenge handling", zap.Error(err))
			continue
		}
		if r.obstructionCleared(ctx, sig) {
			return []Attempt{win(StrategyWaitRetryRefresh, 2, start, nil)}
		}
	}

	attempts := []Attempt{fail(StrategyWaitRetryRefresh, 2, start, "challenge persisted through refreshes")}
	if sig.Type == obstruction.TypeCloudflareTurnstile {
		attempts = append(attempts, r.trySolveCaptcha(ctx, sig))
	}
	return attempts
}

// backOffRateLimit waits out a 429 with escalating pauses, reloading and
// rechecking after each.
func (r *Resolver) backOffRateLimit(ctx context.Context, sig *obstruction.Signature) []Attempt {
	start := time.Now()

	waits := r.cfg.RateLimitBackoff
	if len(waits) == 0 {
		waits = defaultRateLimitBackoff
	}

	for _, wait := range waits {
		r.logger.Debug("Backing off rate limit", zap.Duration("wait", wait))
		if err := sleepCtx(ctx, wait); err != nil {
			return []Attempt{fail(StrategyRateLimitBackoff, 2, start, err.Error())}
		}
		if err := r.driver.Reload(ctx); err != nil {
			r.logger.Debug("Reload failed during rate-limit backoff", zap.Error(err))
			continue
		}
		if r.obstructionCleared(ctx, sig) {
			return []Attempt{win(StrategyRateLimitBackoff, 2, start, map[string]string{
				"waited": time.Since(start).Round(time.Millisecond).String(),
			})}
		}
	}
	return []Attempt{fail(StrategyRateLimitBackoff, 2, start, "rate limit persisted through backoff")}
}

func (r *Resolver) trySolveCaptcha(ctx context.Context, sig *obstruction.Signature) Attempt {
	start := time.Now()

	if err := r.solver.Solve(ctx, sig, r.driver); err != nil {
		r.logger.Debug("Captcha solver declined", zap.Error(err))
		return fail(StrategyCaptchaSolver, 2, start, err.Error())
	}
	if r.obstructionCleared(ctx, sig) {
		return win(StrategyCaptchaSolver, 2, start, nil)
	}
	return fail(StrategyCaptchaSolver, 2, start, "challenge persisted after solve attempt")
}

// lookupAlternativeSources probes fallback sites for the caller's query and
// returns the first usable sample as alternative data.
func (r *Resolver) lookupAlternativeSources(ctx context.Context, sig *obstruction.Signature, query string) []Attempt {
	if r.fetcher == nil {
		return nil
	}

	var attempts []Attempt
	for _, alt := range alternativesFor(sig.SiteDomain) {
		start := time.Now()
		target := alt.URL(query)

		sample, err := r.fetcher.Fetch(ctx, target)
		if err != nil {
			r.logger.Debug("Alternative source unreachable", zap.String("source", alt.Name), zap.Error(err))
			attempts = append(attempts, fail(StrategyAlternativeSource, 2, start, err.Error()))
			continue
		}
		if !sample.Usable() {
			attempts = append(attempts, fail(StrategyAlternativeSource, 2, start,
				fmt.Sprintf("%s returned no usable content (status %d)", alt.Name, sample.StatusCode)))
			continue
		}

		r.logger.Info("Alternative source answered the query",
			zap.String("source", alt.Name),
			zap.String("url", sample.FinalURL),
		)
		attempts = append(attempts, win(StrategyAlternativeSource, 2, start, map[string]string{
			"source":  alt.Name,
			"url":     sample.FinalURL,
			"title":   sample.Title,
			"snippet": sample.TextSnippet,
		}))
		return attempts
	}
	return attempts
}
