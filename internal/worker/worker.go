// Package worker drives one job through the plan → act → heal → retry loop.
// The loop owns the job's shared state, records every step in order, and
// always exits through exactly one terminal status.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/config"
	"github.com/xkilldash9x/eversale-agent/internal/planner"
	"github.com/xkilldash9x/eversale-agent/internal/resolver"
	"github.com/xkilldash9x/eversale-agent/internal/selector"
	"github.com/xkilldash9x/eversale-agent/internal/snapshot"
	"github.com/xkilldash9x/eversale-agent/internal/urlutil"
)

// Deps are the collaborators one Worker needs. All are required.
type Deps struct {
	Driver     schemas.BrowserDriver
	Planner    planner.Planner
	Selectors  *selector.Resolver
	Challenges *resolver.Resolver
	Snapshots  *snapshot.Compressor
}

// Worker runs jobs sequentially against one browser session. It is not safe
// to run two jobs concurrently on the same Worker; the engine enforces that.
type Worker struct {
	cfg    config.EngineConfig
	deps   Deps
	logger *zap.Logger
}

func New(cfg config.EngineConfig, deps Deps, logger *zap.Logger) (*Worker, error) {
	if deps.Driver == nil {
		return nil, errors.New("worker: browser driver is required")
	}
	if deps.Planner == nil {
		return nil, errors.New("worker: planner is required")
	}
	if deps.Selectors == nil {
		return nil, errors.New("worker: selector resolver is required")
	}
	if deps.Challenges == nil {
		return nil, errors.New("worker: challenge resolver is required")
	}
	if deps.Snapshots == nil {
		return nil, errors.New("worker: snapshot compressor is required")
	}

	return &Worker{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("worker"),
	}, nil
}

// Run executes one job to a terminal state. It never returns an error and
// never lets a panic escape: every outcome is a finalized JobResult.
func (w *Worker) Run(ctx context.Context, job schemas.Job) (result *schemas.JobResult) {
	start := time.Now()
	shared := schemas.NewSharedState()
	result = &schemas.JobResult{
		JobID:     job.ID,
		Task:      job.Task,
		Status:    schemas.JobStatusRunning,
		StartedAt: start.UTC(),
	}

	logger := w.logger.With(zap.String("job_id", job.ID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker loop panicked", zap.Any("panic", r), zap.Stack("stack"))
			result.Status = schemas.JobStatusFailed
			result.Error = fmt.Sprintf("worker panic: %v", r)
		}
		if !result.Status.Terminal() {
			result.Status = schemas.JobStatusFailed
			if result.Error == "" {
				result.Error = "worker loop exited without a terminal status"
			}
		}
		result.TotalSteps = len(result.Steps)
		result.ExecutionTimeSeconds = time.Since(start).Seconds()
		result.SharedState = shared.Clone()
		result.FinishedAt = time.Now().UTC()

		logger.Info("Job finished",
			zap.String("status", string(result.Status)),
			zap.Int("steps", result.TotalSteps),
			zap.Float64("seconds", result.ExecutionTimeSeconds),
		)
	}()

	maxSteps := job.MaxSteps
	if maxSteps <= 0 {
		maxSteps = w.cfg.MaxSteps
	}

	if job.StartURL != "" {
		if !navigationAllowed(job, job.StartURL) {
			result.Status = schemas.JobStatusSafetyViolation
			result.Error = fmt.Sprintf("start URL %s is outside the allowed domains", job.StartURL)
			return result
		}
		if err := w.deps.Driver.Navigate(ctx, job.StartURL); err != nil {
			// Not fatal: the obstruction machinery gets its chance inside
			// the loop, and the planner can decide to navigate elsewhere.
			logger.Warn("Initial navigation failed", zap.String("url", job.StartURL), zap.Error(err))
		}
		w.syncPageState(ctx, shared)
	}

	logger.Info("Job started", zap.String("task", job.Task), zap.Int("max_steps", maxSteps))

	for stepNum := 1; stepNum <= maxSteps; stepNum++ {
		if ctx.Err() != nil {
			result.Status = schemas.JobStatusFailed
			result.Error = fmt.Sprintf("job cancelled: %v", ctx.Err())
			return result
		}

		step := w.runStep(ctx, job, stepNum, shared, result)
		result.Steps = append(result.Steps, step)

		if step.Mode == schemas.StepModeFinalAnswer && step.Success {
			result.Status = schemas.JobStatusSuccess
			result.FinalAnswer = step.Result
			return result
		}
		if result.Status.Terminal() {
			return result
		}
	}

	result.Status = schemas.JobStatusMaxStepsReached
	result.Error = fmt.Sprintf("no final answer after %d steps", maxSteps)
	return result
}

// runStep performs one plan-act-heal-retry iteration and returns its record.
// Terminal conditions (safety violations) are written into result.Status.
func (w *Worker) runStep(ctx context.Context, job schemas.Job, stepNum int, shared *schemas.SharedState, result *schemas.JobResult) schemas.StepResult {
	step := schemas.StepResult{
		StepNumber: stepNum,
		Timestamp:  time.Now().UTC(),
	}

	snap := w.captureSnapshot(ctx, shared)
	step.ContextSize = snap.TokenEstimate

	decision, err := w.deps.Planner.Next(ctx, &planner.State{
		Task:           job.Task,
		Snapshot:       snap,
		Shared:         shared,
		RecentSteps:    recentSteps(result.Steps, w.cfg.HistoryWindow),
		OlderStepCount: olderStepCount(result.Steps, w.cfg.HistoryWindow),
	})
	if err != nil {
		w.logger.Warn("Planner failed, skipping step", zap.Int("step", stepNum), zap.Error(err))
		step.Mode = schemas.StepModeErrorRecovery
		step.Action = "plan"
		step.Error = err.Error()
		return step
	}

	step.Mode = decision.Mode
	step.Action = decision.Summary()
	step.ToolName = decision.Tool

	if decision.Mode == schemas.StepModeFinalAnswer {
		step.Success = true
		step.Result = decision.Answer
		return step
	}

	if decision.Mode == schemas.StepModeDOMNavigate && !navigationAllowed(job, decision.URL) {
		step.Error = fmt.Sprintf("navigation to %s is outside the allowed domains", decision.URL)
		result.Status = schemas.JobStatusSafetyViolation
		result.Error = step.Error
		return step
	}

	w.executeWithHealing(ctx, job, decision, &step)

	if step.Success {
		w.syncPageState(ctx, shared)
		shared.LastAction = step.Action
		shared.MergeExtracted(decision.Extract)
		shared.AppendHistory(fmt.Sprintf("step %d: %s", stepNum, step.Action))
		if step.Result == "" {
			step.Result = "ok"
		}
	}
	return step
}

// executeWithHealing runs the decided action with bounded retries. Each
// failed attempt is classified and routed to the matching healer — the
// selector chain for missing elements, the challenge resolver for blocked
// pages — which may rewrite the action before the next try.
func (w *Worker) executeWithHealing(ctx context.Context, job schemas.Job, decision *planner.Decision, step *schemas.StepResult) {
	attempts := w.cfg.MaxRetriesPerStep
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			step.RetryCount = attempt
		}

		lastErr = w.execute(ctx, decision)
		if lastErr == nil {
			step.Success = true
			step.Error = ""
			return
		}
		if ctx.Err() != nil {
			break
		}

		w.logger.Debug("Step attempt failed",
			zap.Int("step", step.StepNumber),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)

		// Healing only helps if another attempt remains to use its result.
		if attempt+1 >= attempts {
			break
		}

		if errors.Is(lastErr, schemas.ErrNoMatch) && decision.Selector != "" {
			if match, healErr := w.deps.Selectors.Find(ctx, decision.Selector, decision.Description); healErr == nil {
				w.logger.Info("Selector healed, retrying action",
					zap.String("from", decision.Selector),
					zap.String("to", match.Selector),
					zap.String("strategy", match.Strategy),
				)
				decision.Selector = match.Selector
				step.Mode = schemas.StepModeErrorRecovery
				step.Action = decision.Summary()
				continue
			}
		}

		w.resolveObstruction(ctx, job, step)
	}

	step.Error = lastErr.Error()
}

// resolveObstruction reads the live page and runs the challenge resolver
// against whatever is blocking it. Alternative data recovered from side
// channels lands in the step result.
func (w *Worker) resolveObstruction(ctx context.Context, job schemas.Job, step *schemas.StepResult) {
	content, err := w.deps.Driver.Content(ctx)
	if err != nil {
		w.logger.Debug("Could not read page content for obstruction check", zap.Error(err))
		return
	}
	currentURL, err := w.deps.Driver.CurrentURL(ctx)
	if err != nil {
		currentURL = ""
	}

	query := job.Query
	if query == "" {
		query = job.Task
	}

	res := w.deps.Challenges.Resolve(ctx, content, currentURL, query, 0)
	if res.ObstructionType == "" {
		return
	}

	step.Mode = schemas.StepModeErrorRecovery
	if res.Success {
		w.logger.Info("Obstruction resolved during step recovery",
			zap.String("obstruction", string(res.ObstructionType)),
			zap.String("strategy", res.ResolutionStrategy),
			zap.Int("layer", res.LayerUsed),
		)
		if len(res.AlternativeData) > 0 {
			step.Result = fmt.Sprintf("recovered via %s: %s", res.ResolutionStrategy, res.AlternativeData["url"])
		}
	}
}

// execute performs the browser action for one decision attempt.
func (w *Worker) execute(ctx context.Context, decision *planner.Decision) error {
	switch decision.Mode {
	case schemas.StepModeDOMNavigate:
		return w.deps.Driver.Navigate(ctx, decision.URL)

	case schemas.StepModeToolCall, schemas.StepModeErrorRecovery:
		switch decision.Tool {
		case planner.ToolClick:
			return w.deps.Driver.Click(ctx, decision.Selector)
		case planner.ToolFill:
			return w.deps.Driver.Fill(ctx, decision.Selector, decision.Text)
		case planner.ToolPressKey:
			return w.deps.Driver.PressKey(ctx, decision.Key)
		case planner.ToolWait:
			return sleepCtx(ctx, time.Duration(decision.Seconds)*time.Second)
		case planner.ToolExtract:
			// Data travels in the decision itself; recording happens on
			// success in runStep.
			return nil
		default:
			return fmt.Errorf("unknown tool %q", decision.Tool)
		}

	default:
		return fmt.Errorf("unexecutable decision mode %q", decision.Mode)
	}
}

// captureSnapshot reads the live page, degrading to a bare-URL snapshot when
// the page cannot be read.
func (w *Worker) captureSnapshot(ctx context.Context, shared *schemas.SharedState) *snapshot.Snapshot {
	snap, err := w.deps.Snapshots.Capture(ctx, w.deps.Driver)
	if err != nil {
		w.logger.Debug("Snapshot capture failed", zap.Error(err))
		return &snapshot.Snapshot{URL: shared.CurrentURL, Title: shared.PageTitle}
	}
	return snap
}

// syncPageState refreshes the shared state's view of the page.
func (w *Worker) syncPageState(ctx context.Context, shared *schemas.SharedState) {
	if url, err := w.deps.Driver.CurrentURL(ctx); err == nil {
		shared.CurrentURL = url
	}
	if title, err := w.deps.Driver.Title(ctx); err == nil {
		shared.PageTitle = title
	}
}

// navigationAllowed checks a navigation target against the job's domain
// allowlist. An empty allowlist permits everything.
func navigationAllowed(job schemas.Job, rawURL string) bool {
	if len(job.AllowedDomains) == 0 {
		return true
	}
	domain := urlutil.SiteDomain(rawURL)
	for _, allowed := range job.AllowedDomains {
		if strings.EqualFold(domain, allowed) {
			return true
		}
	}
	return false
}

func recentSteps(steps []schemas.StepResult, window int) []schemas.StepResult {
	if window <= 0 {
		window = 3
	}
	if len(steps) <= window {
		return steps
	}
	return steps[len(steps)-window:]
}

func olderStepCount(steps []schemas.StepResult, window int) int {
	if window <= 0 {
		window = 3
	}
	if len(steps) <= window {
		return 0
	}
	return len(steps) - window
}

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
