// Package engine distributes queued jobs across a pool of worker loops.
package engine

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/config"
)

// JobRunner runs one job to a terminal result. *worker.Worker is the
// production implementation.
type JobRunner interface {
	Run(ctx context.Context, job schemas.Job) *schemas.JobResult
}

// WorkerFactory builds the runner for one pool slot. Each slot owns its
// runner (and the browser session behind it) for the engine's lifetime, so
// a factory is used instead of a shared instance.
type WorkerFactory func(workerID int) (JobRunner, error)

// Engine manages the in-process distribution of jobs to a pool of workers.
type Engine struct {
	cfg     config.EngineConfig
	logger  *zap.Logger
	store   schemas.ResultStore
	factory WorkerFactory
	wg      sync.WaitGroup

	// stateLock protects the running state of the engine.
	stateLock sync.Mutex
	isRunning bool
}

// New creates a job engine. The store and factory are accepted as
// interfaces so the composition root decides the concrete wiring.
func New(cfg config.EngineConfig, store schemas.ResultStore, factory WorkerFactory, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: result store is required")
	}
	if factory == nil {
		return nil, errors.New("engine: worker factory is required")
	}
	if logger == nil {
		return nil, errors.New("engine: logger is required")
	}

	return &Engine{
		cfg:     cfg,
		logger:  logger.Named("engine"),
		store:   store,
		factory: factory,
	}, nil
}

// Start launches the worker pool and begins consuming jobs from the
// provided channel. Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context, jobs <-chan schemas.Job) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		e.logger.Warn("Engine.Start called, but engine is already running")
		return
	}
	e.isRunning = true
	e.stateLock.Unlock()

	concurrency := e.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	e.logger.Info("Starting worker pool", zap.Int("concurrency", concurrency))

	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1, jobs)
	}
}

// Stop blocks until every worker has drained. Workers exit when the job
// channel closes or the context passed to Start is cancelled.
func (e *Engine) Stop() {
	e.logger.Info("Stopping engine, waiting for workers to finish")
	e.wg.Wait()

	e.stateLock.Lock()
	e.isRunning = false
	e.stateLock.Unlock()

	e.logger.Info("Engine stopped")
}

// runWorker is the main loop for a single pool slot.
func (e *Engine) runWorker(ctx context.Context, workerID int, jobs <-chan schemas.Job) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))

	runner, err := e.factory(workerID)
	if err != nil {
		logger.Error("Worker construction failed, slot abandoned", zap.Error(err))
		return
	}
	logger.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, worker shutting down", zap.Error(ctx.Err()))
			return
		case job, ok := <-jobs:
			if !ok {
				logger.Info("Job queue closed and drained, worker shutting down")
				return
			}
			e.process(ctx, runner, job, logger)
		}
	}
}

// process runs one job under its timeout and archives the result.
func (e *Engine) process(ctx context.Context, runner JobRunner, job schemas.Job, logger *zap.Logger) {
	logger = logger.With(zap.String("job_id", job.ID))

	if ctx.Err() != nil {
		logger.Warn("Context cancelled before job started", zap.Error(ctx.Err()))
		return
	}
	if job.StartURL != "" {
		if u, err := url.Parse(job.StartURL); err != nil || !u.IsAbs() || u.Host == "" {
			logger.Error("Job start URL is not absolute, discarding",
				zap.String("url", job.StartURL), zap.Error(err))
			return
		}
	}

	timeout := e.cfg.JobTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("Processing job", zap.String("task", job.Task))
	result := runner.Run(jobCtx, job)

	// Archive with a background context so a shutdown mid-job still lands
	// the (partial) record.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer persistCancel()

	if err := e.store.SaveJobResult(persistCtx, result); err != nil {
		logger.Error("Failed to archive job result", zap.Error(err))
	} else {
		logger.Info("Job result archived",
			zap.String("status", string(result.Status)),
			zap.Int("steps", result.TotalSteps),
		)
	}
}
