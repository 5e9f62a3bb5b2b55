package resolver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/internal/obstruction"
)

// Layer 5: surface the browser and wait, bounded, for a human to deal with
// whatever the machine could not.

func (r *Resolver) runHumanEscalation(ctx context.Context, sig *obstruction.Signature) []Attempt {
	start := time.Now()

	if err := r.driver.BringToFront(ctx); err != nil {
		r.logger.Debug("Could not surface the browser window", zap.Error(err))
	}

	timeout := r.cfg.HumanTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	interval := r.cfg.EscalationPollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	r.logger.Warn("Human assistance requested",
		zap.String("obstruction", string(sig.Type)),
		zap.String("url", sig.URLPattern),
		zap.Duration("timeout", timeout),
	)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, interval); err != nil {
			break
		}
		if r.obstructionCleared(ctx, sig) {
			r.logger.Info("Obstruction cleared by human", zap.String("obstruction", string(sig.Type)))
			return []Attempt{win(StrategyHumanIntervention, 5, start, nil)}
		}
	}

	// Nobody came. The job continues anyway; later steps may not need this
	// page at all.
	return []Attempt{fail(StrategyAutoContinue, 5, start, "obstruction not cleared within the escalation window")}
}
