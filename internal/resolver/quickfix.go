package resolver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/internal/obstruction"
)

// Layer 1: cheap, obstruction-specific DOM pokes. No waiting games beyond
// the Cloudflare poll, no network side trips.

// consentSelectors cover the common consent-management platforms and the
// generic accept buttons, most specific first.
var consentSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#accept-cookies",
	"#cookie-accept",
	".cookie-consent-accept",
	`[id*="cookie"] button:has-text('accept')`,
	`button:has-text('accept all')`,
	`button:has-text('accept cookies')`,
	`button:has-text('allow all')`,
	`button:has-text('i agree')`,
	`button:has-text('got it')`,
	`[aria-label*="accept cookies" i]`,
	`button:has-text('accept')`,
}

// overlayCloseSelectors cover newsletter popups, modal dialogs and promo
// overlays.
var overlayCloseSelectors = []string{
	`[aria-label*="close" i]`,
	".modal-close",
	".popup-close",
	".overlay-close",
	`button:has-text('no thanks')`,
	`button:has-text('maybe later')`,
	`button:has-text('close')`,
	`[class*="dismiss"]`,
}

func (r *Resolver) runQuickFixes(ctx context.Context, sig *obstruction.Signature) []Attempt {
	switch sig.Type {
	case obstruction.TypeCookieConsent:
		return r.clickConsent(ctx)
	case obstruction.TypeNewsletterPopup, obstruction.TypeModalOverlay, obstruction.TypePopupBlocker:
		return r.closeOverlay(ctx, sig)
	case obstruction.TypeCloudflareJS:
		return r.waitOutCloudflare(ctx, sig)
	default:
		return nil
	}
}

func (r *Resolver) clickConsent(ctx context.Context) []Attempt {
	start := time.Now()
	for _, sel := range consentSelectors {
		if err := r.driver.Click(ctx, sel); err != nil {
			continue
		}
		r.logger.Info("Dismissed consent banner", zap.String("selector", sel))
		return []Attempt{win(StrategyClickConsent, 1, start, map[string]string{"selector": sel})}
	}
	return []Attempt{fail(StrategyClickConsent, 1, start, "no consent button matched")}
}

func (r *Resolver) closeOverlay(ctx context.Context, sig *obstruction.Signature) []Attempt {
	start := time.Now()
	for _, sel := range overlayCloseSelectors {
		if err := r.driver.Click(ctx, sel); err != nil {
			continue
		}
		r.logger.Info("Closed overlay", zap.String("selector", sel))
		return []Attempt{win(StrategyCloseOverlay, 1, start, map[string]string{"selector": sel})}
	}

	attempts := []Attempt{fail(StrategyCloseOverlay, 1, start, "no close button matched")}

	// Escape dismisses most focus-trapping dialogs, but only counts as a win
	// if the overlay actually went away.
	escStart := time.Now()
	if err := r.driver.PressKey(ctx, "Escape"); err != nil {
		return append(attempts, fail(StrategyEscapeKey, 1, escStart, err.Error()))
	}
	if r.obstructionCleared(ctx, sig) {
		return append(attempts, win(StrategyEscapeKey, 1, escStart, nil))
	}
	return append(attempts, fail(StrategyEscapeKey, 1, escStart, "overlay still present after Escape"))
}

// waitOutCloudflare polls the page until the managed challenge clears on its
// own, which it frequently does for non-interactive checks.
func (r *Resolver) waitOutCloudflare(ctx context.Context, sig *obstruction.Signature) []Attempt {
	start := time.Now()

	interval := r.cfg.CloudflarePollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	budget := r.cfg.CloudflarePollBudget
	if budget <= 0 {
		budget = 20 * time.Second
	}

	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, interval); err != nil {
			return []Attempt{fail(StrategyCloudflareWait, 1, start, err.Error())}
		}
		if r.obstructionCleared(ctx, sig) {
			r.logger.Info("Cloudflare challenge cleared on its own", zap.Duration("waited", time.Since(start)))
			return []Attempt{win(StrategyCloudflareWait, 1, start, nil)}
		}
	}
	return []Attempt{fail(StrategyCloudflareWait, 1, start, "challenge did not clear within the poll budget")}
}
