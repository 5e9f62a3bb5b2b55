package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/altsource"
	"github.com/xkilldash9x/eversale-agent/internal/browser/cdp"
	"github.com/xkilldash9x/eversale-agent/internal/browser/mcpdriver"
	"github.com/xkilldash9x/eversale-agent/internal/config"
	"github.com/xkilldash9x/eversale-agent/internal/engine"
	"github.com/xkilldash9x/eversale-agent/internal/llmclient"
	"github.com/xkilldash9x/eversale-agent/internal/observability"
	"github.com/xkilldash9x/eversale-agent/internal/obstruction"
	"github.com/xkilldash9x/eversale-agent/internal/planner"
	"github.com/xkilldash9x/eversale-agent/internal/resolver"
	"github.com/xkilldash9x/eversale-agent/internal/selector"
	"github.com/xkilldash9x/eversale-agent/internal/snapshot"
	"github.com/xkilldash9x/eversale-agent/internal/store"
	"github.com/xkilldash9x/eversale-agent/internal/wisdom"
	"github.com/xkilldash9x/eversale-agent/internal/worker"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one browser task to completion",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("engine.max_steps", cmd.Flags().Lookup("max-steps")); err != nil {
				return err
			}
			if err := viper.BindPFlag("engine.worker_concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg := &config.Config{}
			if err := viper.Unmarshal(cfg); err != nil {
				return fmt.Errorf("failed to unmarshal config with flag overrides: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			task := strings.TrimSpace(viper.GetString("task"))
			if task == "" {
				return fmt.Errorf("--task is required")
			}
			startURL := strings.TrimSpace(viper.GetString("url"))
			if startURL != "" && !strings.HasPrefix(startURL, "http://") && !strings.HasPrefix(startURL, "https://") {
				startURL = "https://" + startURL
			}

			job := schemas.Job{
				ID:             uuid.New().String(),
				Task:           task,
				StartURL:       startURL,
				Query:          viper.GetString("query"),
				MaxSteps:       cfg.Engine.MaxSteps,
				AllowedDomains: viper.GetStringSlice("allow-domain"),
			}

			logger.Info("Starting job",
				zap.String("job_id", job.ID),
				zap.String("task", job.Task),
				zap.String("start_url", job.StartURL),
				zap.Int("max_steps", job.MaxSteps),
			)

			components, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown(ctx)
				}
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown(ctx)

			jobs := make(chan schemas.Job, 1)
			jobs <- job
			close(jobs)

			components.Engine.Start(ctx, jobs)
			components.Engine.Stop()

			result := components.Results.last()
			if result == nil {
				return fmt.Errorf("job produced no result")
			}

			fmt.Printf("\nJob %s finished: %s (%d steps, %.1fs)\n",
				result.JobID, result.Status, result.TotalSteps, result.ExecutionTimeSeconds)
			if result.FinalAnswer != "" {
				fmt.Printf("\n%s\n", result.FinalAnswer)
			}
			if result.Error != "" {
				fmt.Printf("\nError: %s\n", result.Error)
			}
			if result.Status != schemas.JobStatusSuccess {
				return fmt.Errorf("job ended with status %s", result.Status)
			}
			return nil
		},
	}

	runCmd.Flags().StringP("task", "t", "", "Natural-language task for the agent (required)")
	runCmd.Flags().StringP("url", "u", "", "URL to start from")
	runCmd.Flags().StringP("query", "q", "", "Data the task is ultimately after; guides alternative-source recovery")
	runCmd.Flags().Int("max-steps", 0, "Maximum worker-loop steps (overrides config/env)")
	runCmd.Flags().IntP("concurrency", "j", 0, "Worker pool size (overrides config/env)")
	runCmd.Flags().StringSlice("allow-domain", nil, "Restrict navigation to these registrable domains (repeatable)")

	return runCmd
}

// runComponents holds the initialized service graph.
type runComponents struct {
	Engine  *engine.Engine
	Store   schemas.ResultStore
	Results *resultCapture
	LLM     schemas.LLMClient
	DBPool  *pgxpool.Pool

	mu      sync.Mutex
	drivers []schemas.BrowserDriver
}

// Shutdown closes components in dependency order.
func (rc *runComponents) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rc.mu.Lock()
	drivers := rc.drivers
	rc.drivers = nil
	rc.mu.Unlock()
	for _, d := range drivers {
		if err := d.Close(shutdownCtx); err != nil {
			observability.GetLogger().Warn("Error closing browser driver", zap.Error(err))
		}
	}

	if rc.LLM != nil {
		rc.LLM.Close()
	}
	if rc.Store != nil {
		rc.Store.Close()
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

func (rc *runComponents) trackDriver(d schemas.BrowserDriver) {
	rc.mu.Lock()
	rc.drivers = append(rc.drivers, d)
	rc.mu.Unlock()
}

// initializeComponents handles dependency injection for a run.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	// 1. Result archive
	if cfg.Database.Enabled {
		dbPool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize result store: %w", err)
		}
		if err := dbStore.EnsureSchema(ctx); err != nil {
			return components, err
		}
		components.Store = dbStore
	} else {
		components.Store = store.Noop{}
	}
	components.Results = &resultCapture{inner: components.Store}

	// 2. LLM client
	llm, err := llmclient.NewClient(cfg.Agent, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	components.LLM = llm

	// 3. Shared stores and helpers. One instance each per process; they
	// carry their own lock discipline.
	wisdomStore := wisdom.NewStore(cfg.Resolver.WisdomDir, logger)
	selectorCache := selector.NewCache(cfg.Selector.CacheDir, logger)
	detector := obstruction.NewDetector(logger)
	prober := altsource.NewProber(cfg.Resolver, logger)
	compressor := snapshot.NewCompressor(logger)
	plan := planner.NewLLMPlanner(llm, logger)

	// 4. Worker factory: each pool slot owns a browser session and the
	// healing stack bound to it.
	factory := func(workerID int) (engine.JobRunner, error) {
		driver, err := newDriver(ctx, cfg.Browser, logger)
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", workerID, err)
		}
		components.trackDriver(driver)

		challenges, err := resolver.New(cfg.Resolver, resolver.Deps{
			Driver:   driver,
			Detector: detector,
			Wisdom:   wisdomStore,
			LLM:      llm,
			Fetcher:  prober,
		}, logger)
		if err != nil {
			return nil, err
		}

		return worker.New(cfg.Engine, worker.Deps{
			Driver:     driver,
			Planner:    plan,
			Selectors:  selector.NewResolver(driver, selectorCache, logger),
			Challenges: challenges,
			Snapshots:  compressor,
		}, logger)
	}

	// 5. Engine
	eng, err := engine.New(cfg.Engine, components.Results, factory, logger)
	if err != nil {
		return components, err
	}
	components.Engine = eng

	return components, nil
}

func newDriver(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (schemas.BrowserDriver, error) {
	switch cfg.Backend {
	case "mcp":
		return mcpdriver.New(ctx, cfg.MCP, logger)
	default:
		return cdp.New(ctx, cfg, logger)
	}
}

// resultCapture forwards archived results and keeps the most recent one so
// the CLI can print it.
type resultCapture struct {
	inner schemas.ResultStore

	mu     sync.Mutex
	latest *schemas.JobResult
}

var _ schemas.ResultStore = (*resultCapture)(nil)

func (c *resultCapture) SaveJobResult(ctx context.Context, result *schemas.JobResult) error {
	c.mu.Lock()
	c.latest = result
	c.mu.Unlock()
	return c.inner.SaveJobResult(ctx, result)
}

func (c *resultCapture) GetJobResult(ctx context.Context, jobID string) (*schemas.JobResult, error) {
	return c.inner.GetJobResult(ctx, jobID)
}

func (c *resultCapture) Close() {}

func (c *resultCapture) last() *schemas.JobResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}
