package resolver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/altsource"
	"github.com/xkilldash9x/eversale-agent/internal/config"
	"github.com/xkilldash9x/eversale-agent/internal/obstruction"
	"github.com/xkilldash9x/eversale-agent/internal/wisdom"
)

// PageFetcher is the HTTP-probe capability layers 2 and 4 use to look at
// alternative views of blocked content without spending a browser tab.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*altsource.PageSample, error)
}

// CaptchaSolver attempts to solve an interactive challenge in place.
type CaptchaSolver interface {
	Solve(ctx context.Context, sig *obstruction.Signature, driver schemas.BrowserDriver) error
}

// ErrNoSolver reports that no solving backend is wired in.
var ErrNoSolver = errors.New("no captcha solver configured")

// NoSolver is the default CaptchaSolver. It never solves anything; the layer
// records the failure and moves on.
type NoSolver struct{}

func (NoSolver) Solve(context.Context, *obstruction.Signature, schemas.BrowserDriver) error {
	return ErrNoSolver
}

// Deps are the collaborators a Resolver needs. LLM, Fetcher and Solver are
// optional; the corresponding strategies degrade to no-ops without them.
type Deps struct {
	Driver   schemas.BrowserDriver
	Detector *obstruction.Detector
	Wisdom   *wisdom.Store
	LLM      schemas.LLMClient
	Fetcher  PageFetcher
	Solver   CaptchaSolver
}

// Resolver works through page obstructions with escalating effort: cheap
// mechanical fixes, then waiting games and side routes, then AI suggestions,
// then a parallel hunt for alternative views, and finally a bounded ask for
// a human. Resolve never returns an error: the worst outcome is "still
// blocked, keep going".
type Resolver struct {
	cfg      config.ResolverConfig
	driver   schemas.BrowserDriver
	detector *obstruction.Detector
	wisdom   *wisdom.Store
	llm      schemas.LLMClient
	fetcher  PageFetcher
	solver   CaptchaSolver
	logger   *zap.Logger
}

func New(cfg config.ResolverConfig, deps Deps, logger *zap.Logger) (*Resolver, error) {
	if deps.Driver == nil {
		return nil, errors.New("resolver: browser driver is required")
	}
	if deps.Detector == nil {
		return nil, errors.New("resolver: obstruction detector is required")
	}
	if deps.Wisdom == nil {
		return nil, errors.New("resolver: wisdom store is required")
	}

	solver := deps.Solver
	if solver == nil {
		solver = NoSolver{}
	}

	return &Resolver{
		cfg:      cfg,
		driver:   deps.Driver,
		detector: deps.Detector,
		wisdom:   deps.Wisdom,
		llm:      deps.LLM,
		fetcher:  deps.Fetcher,
		solver:   solver,
		logger:   logger.Named("challenge_resolver"),
	}, nil
}

// wisdomHintThreshold is the success rate above which a learned strategy is
// surfaced as a hint. The layer sequence runs regardless; the hint is
// advisory context for the logs and the model.
const wisdomHintThreshold = 0.7

// Resolve classifies whatever is blocking the page and works the escalation
// ladder until something clears it or every layer has had its shot.
// maxTime bounds entry into layers 2-4; zero applies the configured default.
// The returned Result always has ShouldContinue == true.
func (r *Resolver) Resolve(ctx context.Context, pageContent, pageURL, query string, maxTime time.Duration) *Result {
	start := time.Now()

	if maxTime <= 0 {
		maxTime = r.cfg.MaxResolveTime
	}
	if maxTime <= 0 {
		maxTime = 2 * time.Minute
	}

	sig := r.detector.Detect(pageContent, pageURL)
	if sig == nil {
		return &Result{
			Success:            true,
			ResolutionStrategy: StrategyNoneNeeded,
			LayerUsed:          0,
			TotalTimeMS:        time.Since(start).Milliseconds(),
			ShouldContinue:     true,
		}
	}

	hash := sig.Hash()
	logger := r.logger.With(
		zap.String("obstruction", string(sig.Type)),
		zap.String("signature", hash),
	)
	logger.Info("Obstruction detected",
		zap.String("url", pageURL),
		zap.Strings("indicators", sig.PageIndicators),
	)

	if pattern, ok := r.wisdom.Get(hash); ok && pattern.SuccessRate() > wisdomHintThreshold {
		logger.Info("Learned strategy available for this signature",
			zap.String("strategy", pattern.Strategy),
			zap.Int("layer", pattern.Layer),
			zap.Float64("success_rate", pattern.SuccessRate()),
		)
	}

	result := &Result{
		ObstructionType: sig.Type,
		ShouldContinue:  true,
	}

	layers := []struct {
		layer       int
		budgetGated bool
		run         func(context.Context) []Attempt
	}{
		{1, false, func(ctx context.Context) []Attempt { return r.runQuickFixes(ctx, sig) }},
		{2, true, func(ctx context.Context) []Attempt { return r.runStrategicBypass(ctx, sig, query) }},
		{3, true, func(ctx context.Context) []Attempt { return r.runAIReasoning(ctx, sig, pageContent, query) }},
		{4, true, func(ctx context.Context) []Attempt { return r.runSwarm(ctx, sig, pageURL) }},
		{5, false, func(ctx context.Context) []Attempt { return r.runHumanEscalation(ctx, sig) }},
	}

	for _, l := range layers {
		if ctx.Err() != nil {
			break
		}
		if l.budgetGated && time.Since(start) > maxTime {
			logger.Debug("Skipping layer, resolve budget exhausted", zap.Int("layer", l.layer))
			continue
		}

		attempts := l.run(ctx)
		result.Attempts = append(result.Attempts, attempts...)
		r.recordAttempts(hash, attempts)

		if winner, ok := anySuccess(attempts); ok {
			result.Success = true
			result.ResolutionStrategy = winner.Strategy
			result.LayerUsed = l.layer
			result.AlternativeData = winner.ResultData
			result.TotalTimeMS = time.Since(start).Milliseconds()
			logger.Info("Obstruction resolved",
				zap.String("strategy", winner.Strategy),
				zap.Int("layer", l.layer),
				zap.Int64("total_ms", result.TotalTimeMS),
			)
			return result
		}
	}

	result.TotalTimeMS = time.Since(start).Milliseconds()
	if n := len(result.Attempts); n > 0 {
		last := result.Attempts[n-1]
		result.ResolutionStrategy = last.Strategy
		result.LayerUsed = last.Layer
		result.Error = last.Error
	} else {
		result.ResolutionStrategy = StrategyAutoContinue
		result.Error = "resolution aborted before any strategy ran"
	}

	logger.Warn("Obstruction not resolved, continuing anyway",
		zap.String("final_strategy", result.ResolutionStrategy),
		zap.Int("attempts", len(result.Attempts)),
	)
	return result
}

// recordAttempts feeds every attempt into the wisdom store, so failure
// streaks are as visible to future resolves as wins.
func (r *Resolver) recordAttempts(hash string, attempts []Attempt) {
	for _, a := range attempts {
		if a.Success {
			r.wisdom.RecordSuccess(hash, a.Strategy, a.Layer, time.Duration(a.DurationMS)*time.Millisecond)
		} else {
			r.wisdom.RecordFailure(hash, a.Strategy, a.Layer)
		}
	}
}

// obstructionCleared re-reads the live page and reports whether the original
// obstruction type is gone. A different obstruction surfacing counts as
// cleared; the next Resolve call deals with the newcomer.
func (r *Resolver) obstructionCleared(ctx context.Context, sig *obstruction.Signature) bool {
	content, err := r.driver.Content(ctx)
	if err != nil {
		r.logger.Debug("Could not read page content for recheck", zap.Error(err))
		return false
	}
	currentURL, err := r.driver.CurrentURL(ctx)
	if err != nil {
		currentURL = sig.URLPattern
	}

	current := r.detector.Detect(content, currentURL)
	return current == nil || current.Type != sig.Type
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
