// Package store archives finished job results in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Close()
}

// Store is the PostgreSQL implementation of schemas.ResultStore.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.ResultStore = (*Store)(nil)

// New verifies the connection and returns a store bound to the pool.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS jobs (
    job_id                 TEXT PRIMARY KEY,
    task                   TEXT NOT NULL,
    status                 TEXT NOT NULL,
    final_answer           TEXT NOT NULL DEFAULT '',
    error                  TEXT NOT NULL DEFAULT '',
    total_steps            INT NOT NULL DEFAULT 0,
    execution_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    shared_state           JSONB NOT NULL DEFAULT '{}',
    started_at             TIMESTAMPTZ NOT NULL,
    finished_at            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS job_steps (
    job_id       TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
    step_number  INT NOT NULL,
    mode         TEXT NOT NULL,
    tool_name    TEXT NOT NULL DEFAULT '',
    action       TEXT NOT NULL DEFAULT '',
    success      BOOLEAN NOT NULL,
    result       TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    context_size INT NOT NULL DEFAULT 0,
    retry_count  INT NOT NULL DEFAULT 0,
    observed_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (job_id, step_number)
);
`

// EnsureSchema creates the archive tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure archive schema: %w", err)
	}
	return nil
}

const sqlInsertJob = `
INSERT INTO jobs (job_id, task, status, final_answer, error, total_steps, execution_time_seconds, shared_state, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (job_id) DO UPDATE SET
    status = EXCLUDED.status,
    final_answer = EXCLUDED.final_answer,
    error = EXCLUDED.error,
    total_steps = EXCLUDED.total_steps,
    execution_time_seconds = EXCLUDED.execution_time_seconds,
    shared_state = EXCLUDED.shared_state,
    finished_at = EXCLUDED.finished_at;
`

// SaveJobResult persists one finalized result: the job row plus its step
// rows land in a single transaction.
func (s *Store) SaveJobResult(ctx context.Context, result *schemas.JobResult) error {
	if result == nil {
		return errors.New("nil job result")
	}
	if result.JobID == "" {
		return errors.New("job result has no job id")
	}

	sharedJSON, err := json.Marshal(result.SharedState)
	if err != nil {
		return fmt.Errorf("failed to encode shared state: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlInsertJob,
		result.JobID, result.Task, string(result.Status),
		result.FinalAnswer, result.Error,
		result.TotalSteps, result.ExecutionTimeSeconds,
		sharedJSON,
		result.StartedAt.UTC(), result.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job row: %w", err)
	}

	if len(result.Steps) > 0 {
		if err := s.persistSteps(ctx, tx, result.JobID, result.Steps); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistSteps(ctx context.Context, tx pgx.Tx, jobID string, steps []schemas.StepResult) error {
	// A re-archived job replaces its step rows instead of colliding on the
	// primary key.
	if _, err := tx.Exec(ctx, `DELETE FROM job_steps WHERE job_id = $1;`, jobID); err != nil {
		return fmt.Errorf("failed to clear previous step rows: %w", err)
	}

	rows := make([][]interface{}, len(steps))
	for i, step := range steps {
		rows[i] = []interface{}{
			jobID, step.StepNumber, string(step.Mode),
			step.ToolName, step.Action, step.Success,
			step.Result, step.Error,
			step.ContextSize, step.RetryCount,
			step.Timestamp.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"job_steps"},
		[]string{"job_id", "step_number", "mode", "tool_name", "action", "success", "result", "error", "context_size", "retry_count", "observed_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy step rows: %w", err)
	}
	if int(copyCount) != len(steps) {
		return fmt.Errorf("mismatch in copied step count: expected %d, got %d", len(steps), copyCount)
	}
	return nil
}

const sqlSelectJob = `
SELECT task, status, final_answer, error, total_steps, execution_time_seconds, shared_state, started_at, finished_at
FROM jobs
WHERE job_id = $1;
`

const sqlSelectSteps = `
SELECT step_number, mode, tool_name, action, success, result, error, context_size, retry_count, observed_at
FROM job_steps
WHERE job_id = $1
ORDER BY step_number ASC;
`

// GetJobResult loads a previously archived result by job ID.
func (s *Store) GetJobResult(ctx context.Context, jobID string) (*schemas.JobResult, error) {
	result := &schemas.JobResult{JobID: jobID}

	var statusStr string
	var sharedJSON []byte
	err := s.pool.QueryRow(ctx, sqlSelectJob, jobID).Scan(
		&result.Task, &statusStr, &result.FinalAnswer, &result.Error,
		&result.TotalSteps, &result.ExecutionTimeSeconds,
		&sharedJSON, &result.StartedAt, &result.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s not found", jobID)
		}
		return nil, fmt.Errorf("failed to query job row: %w", err)
	}
	result.Status = schemas.JobStatus(statusStr)

	if len(sharedJSON) > 0 {
		if err := json.Unmarshal(sharedJSON, &result.SharedState); err != nil {
			return nil, fmt.Errorf("failed to decode shared state: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx, sqlSelectSteps, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step schemas.StepResult
		var modeStr string
		err := rows.Scan(
			&step.StepNumber, &modeStr, &step.ToolName, &step.Action,
			&step.Success, &step.Result, &step.Error,
			&step.ContextSize, &step.RetryCount, &step.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		step.Mode = schemas.StepMode(modeStr)
		result.Steps = append(result.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during step row iteration: %w", err)
	}

	return result, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
