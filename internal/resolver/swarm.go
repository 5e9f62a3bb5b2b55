package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/eversale-agent/internal/altsource"
	"github.com/xkilldash9x/eversale-agent/internal/obstruction"
)

// Layer 4: parallel exploration of alternative views of the blocked content.
// Only the root-domain exploration touches the shared browser page; the rest
// are plain HTTP probes, so concurrent execution cannot corrupt page state.

// errExplorationWon aborts the rest of the swarm once one exploration has
// produced usable data.
var errExplorationWon = errors.New("exploration succeeded")

type exploration struct {
	strategy string
	run      func(ctx context.Context) (map[string]string, error)
}

func (r *Resolver) runSwarm(ctx context.Context, sig *obstruction.Signature, pageURL string) []Attempt {
	explorations := r.buildExplorations(sig, pageURL)
	if len(explorations) == 0 {
		return nil
	}

	timeout := r.cfg.SwarmTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	swarmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limit := r.cfg.SwarmLimit
	if limit <= 0 || limit > 4 {
		limit = 4
	}

	g, gctx := errgroup.WithContext(swarmCtx)
	g.SetLimit(limit)

	r.logger.Info("Dispatching exploration swarm",
		zap.Int("explorations", len(explorations)),
		zap.Int("limit", limit),
		zap.Duration("timeout", timeout),
	)

	var mu sync.Mutex
	var attempts []Attempt

	for _, ex := range explorations {
		ex := ex
		g.Go(func() error {
			start := time.Now()
			data, err := ex.run(gctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Debug("Exploration came up empty", zap.String("exploration", ex.strategy), zap.Error(err))
				attempts = append(attempts, fail(ex.strategy, 4, start, err.Error()))
				// A dead end never stops the other explorations.
				return nil
			}

			r.logger.Info("Exploration found a way through", zap.String("exploration", ex.strategy))
			attempts = append(attempts, win(ex.strategy, 4, start, data))
			return errExplorationWon
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errExplorationWon) {
		r.logger.Debug("Swarm ended without a winner", zap.Error(err))
	}
	return attempts
}

func (r *Resolver) buildExplorations(sig *obstruction.Signature, pageURL string) []exploration {
	var out []exploration

	if sig.SiteDomain != "" {
		rootURL := "https://" + sig.SiteDomain + "/"
		out = append(out, exploration{
			strategy: StrategySwarmRootDomain,
			run: func(ctx context.Context) (map[string]string, error) {
				if err := r.driver.Navigate(ctx, rootURL); err != nil {
					return nil, fmt.Errorf("navigating to site root: %w", err)
				}
				content, err := r.driver.Content(ctx)
				if err != nil {
					return nil, fmt.Errorf("reading site root: %w", err)
				}
				if blocked := r.detector.Detect(content, rootURL); blocked != nil {
					return nil, fmt.Errorf("site root also obstructed: %s", blocked.Type)
				}
				return map[string]string{"url": rootURL}, nil
			},
		})
	}

	if r.fetcher != nil && pageURL != "" {
		out = append(out,
			exploration{StrategySwarmGoogleCache, r.probeExploration("google_cache", altsource.GoogleCacheURL(pageURL))},
			exploration{StrategySwarmWayback, r.probeExploration("wayback", altsource.WaybackURL(pageURL))},
		)
		if mobileURL, ok := altsource.MobileURL(pageURL); ok {
			out = append(out, exploration{StrategySwarmMobile, r.probeExploration("mobile", mobileURL)})
		}
	}
	return out
}

// probeExploration fetches one alternative view over HTTP and accepts it only
// when it is readable and not itself an obstruction page.
func (r *Resolver) probeExploration(source, target string) func(context.Context) (map[string]string, error) {
	return func(ctx context.Context) (map[string]string, error) {
		sample, err := r.fetcher.Fetch(ctx, target)
		if err != nil {
			return nil, err
		}
		if !sample.Usable() {
			return nil, fmt.Errorf("no usable content at %s (status %d)", target, sample.StatusCode)
		}
		if blocked := r.detector.Detect(sample.HTML, target); blocked != nil {
			return nil, fmt.Errorf("alternative view also obstructed: %s", blocked.Type)
		}
		return map[string]string{
			"source":  source,
			"url":     sample.FinalURL,
			"title":   sample.Title,
			"snippet": sample.TextSnippet,
		}, nil
	}
}
