package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/config"
)

// memoryStore records archived results in memory.
type memoryStore struct {
	mu      sync.Mutex
	results map[string]*schemas.JobResult
	saveErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{results: make(map[string]*schemas.JobResult)}
}

func (s *memoryStore) SaveJobResult(ctx context.Context, result *schemas.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.results[result.JobID] = result
	return nil
}

func (s *memoryStore) GetJobResult(ctx context.Context, jobID string) (*schemas.JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[jobID]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}

func (s *memoryStore) Close() {}

func (s *memoryStore) saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// funcRunner adapts a closure to the JobRunner interface.
type funcRunner func(ctx context.Context, job schemas.Job) *schemas.JobResult

func (f funcRunner) Run(ctx context.Context, job schemas.Job) *schemas.JobResult {
	return f(ctx, job)
}

func successRunner() JobRunner {
	return funcRunner(func(ctx context.Context, job schemas.Job) *schemas.JobResult {
		return &schemas.JobResult{
			JobID:  job.ID,
			Task:   job.Task,
			Status: schemas.JobStatusSuccess,
		}
	})
}

func staticFactory(runner JobRunner) WorkerFactory {
	return func(int) (JobRunner, error) { return runner, nil }
}

func TestNew_Validation(t *testing.T) {
	logger := zap.NewNop()
	cfg := config.EngineConfig{}

	_, err := New(cfg, nil, staticFactory(successRunner()), logger)
	assert.Error(t, err)

	_, err = New(cfg, newMemoryStore(), nil, logger)
	assert.Error(t, err)

	_, err = New(cfg, newMemoryStore(), staticFactory(successRunner()), nil)
	assert.Error(t, err)
}

func TestEngine_ProcessesAllQueuedJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMemoryStore()
	eng, err := New(
		config.EngineConfig{WorkerConcurrency: 3, JobTimeout: 5 * time.Second},
		store, staticFactory(successRunner()), zap.NewNop(),
	)
	require.NoError(t, err)

	jobs := make(chan schemas.Job, 10)
	for i := 0; i < 10; i++ {
		jobs <- schemas.Job{ID: fmt.Sprintf("job-%d", i), Task: "t", StartURL: "https://example.com"}
	}
	close(jobs)

	eng.Start(context.Background(), jobs)
	eng.Stop()

	assert.Equal(t, 10, store.saved())
	r, err := store.GetJobResult(context.Background(), "job-7")
	require.NoError(t, err)
	assert.Equal(t, schemas.JobStatusSuccess, r.Status)
}

func TestEngine_StartIsNotReentrant(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMemoryStore()
	eng, err := New(
		config.EngineConfig{WorkerConcurrency: 1},
		store, staticFactory(successRunner()), zap.NewNop(),
	)
	require.NoError(t, err)

	jobs := make(chan schemas.Job)
	close(jobs)

	eng.Start(context.Background(), jobs)
	eng.Start(context.Background(), jobs) // ignored
	eng.Stop()
}

func TestEngine_CancellationStopsWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	blocking := funcRunner(func(ctx context.Context, job schemas.Job) *schemas.JobResult {
		close(started)
		<-ctx.Done()
		return &schemas.JobResult{JobID: job.ID, Status: schemas.JobStatusFailed, Error: ctx.Err().Error()}
	})

	store := newMemoryStore()
	eng, err := New(
		config.EngineConfig{WorkerConcurrency: 1, JobTimeout: time.Minute},
		store, staticFactory(blocking), zap.NewNop(),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	jobs := make(chan schemas.Job, 1)
	jobs <- schemas.Job{ID: "stuck", Task: "t"}

	eng.Start(ctx, jobs)
	<-started
	cancel()
	eng.Stop()

	// The interrupted result still gets archived: persistence runs on a
	// background context.
	assert.Equal(t, 1, store.saved())
}

func TestEngine_JobTimeoutBoundsEachJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	slow := funcRunner(func(ctx context.Context, job schemas.Job) *schemas.JobResult {
		<-ctx.Done()
		return &schemas.JobResult{JobID: job.ID, Status: schemas.JobStatusFailed, Error: "timed out"}
	})

	store := newMemoryStore()
	eng, err := New(
		config.EngineConfig{WorkerConcurrency: 1, JobTimeout: 20 * time.Millisecond},
		store, staticFactory(slow), zap.NewNop(),
	)
	require.NoError(t, err)

	jobs := make(chan schemas.Job, 1)
	jobs <- schemas.Job{ID: "slow", Task: "t"}
	close(jobs)

	done := make(chan struct{})
	go func() {
		eng.Start(context.Background(), jobs)
		eng.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not enforce the job timeout")
	}
	assert.Equal(t, 1, store.saved())
}

func TestEngine_DiscardsJobsWithBadStartURLs(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMemoryStore()
	eng, err := New(
		config.EngineConfig{WorkerConcurrency: 1},
		store, staticFactory(successRunner()), zap.NewNop(),
	)
	require.NoError(t, err)

	jobs := make(chan schemas.Job, 2)
	jobs <- schemas.Job{ID: "bad", Task: "t", StartURL: "not a url at all\x00"}
	jobs <- schemas.Job{ID: "relative", Task: "t", StartURL: "/just/a/path"}
	close(jobs)

	eng.Start(context.Background(), jobs)
	eng.Stop()

	assert.Equal(t, 0, store.saved())
}

func TestEngine_FactoryFailureAbandonsSlot(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newMemoryStore()
	factory := func(workerID int) (JobRunner, error) {
		if workerID == 1 {
			return nil, errors.New("browser session unavailable")
		}
		return successRunner(), nil
	}
	eng, err := New(config.EngineConfig{WorkerConcurrency: 2}, store, factory, zap.NewNop())
	require.NoError(t, err)

	jobs := make(chan schemas.Job, 3)
	for i := 0; i < 3; i++ {
		jobs <- schemas.Job{ID: fmt.Sprintf("job-%d", i), Task: "t"}
	}
	close(jobs)

	eng.Start(context.Background(), jobs)
	eng.Stop()

	// The surviving slot drains the whole queue.
	assert.Equal(t, 3, store.saved())
}
