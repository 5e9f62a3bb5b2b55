package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
)

// flexibleSQLMatcher builds a whitespace-insensitive regex for SQL mocks.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func sampleResult() *schemas.JobResult {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &schemas.JobResult{
		JobID:                "job-abc",
		Task:                 "find pricing",
		Status:               schemas.JobStatusSuccess,
		FinalAnswer:          "$49/mo",
		TotalSteps:           2,
		ExecutionTimeSeconds: 3.5,
		SharedState: schemas.SharedState{
			CurrentURL:    "https://example.com/pricing",
			ExtractedData: map[string]string{"price": "$49/mo"},
		},
		StartedAt:  started,
		FinishedAt: started.Add(4 * time.Second),
		Steps: []schemas.StepResult{
			{StepNumber: 1, Mode: schemas.StepModeToolCall, ToolName: "click", Action: "click #pricing", Success: true, Result: "ok", Timestamp: started.Add(time.Second)},
			{StepNumber: 2, Mode: schemas.StepModeFinalAnswer, Action: "final_answer", Success: true, Result: "$49/mo", Timestamp: started.Add(2 * time.Second)},
		},
	}
}

func newMockedStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestNew_PingFailure(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockedStore(t)

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveJobResult(t *testing.T) {
	ctx := context.Background()
	stepColumns := []string{"job_id", "step_number", "mode", "tool_name", "action", "success", "result", "error", "context_size", "retry_count", "observed_at"}

	t.Run("persists job row and step rows in one transaction", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		observedCore, observedLogs := observer.New(zapcore.ErrorLevel)
		mockPool.ExpectPing()
		s, err := New(ctx, mockPool, zap.New(observedCore))
		require.NoError(t, err)

		result := sampleResult()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertJob)).
			WithArgs(
				result.JobID, result.Task, string(result.Status),
				result.FinalAnswer, result.Error,
				result.TotalSteps, result.ExecutionTimeSeconds,
				pgxmock.AnyArg(),
				result.StartedAt, result.FinishedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(`DELETE FROM job_steps WHERE job_id = \$1;`).
			WithArgs(result.JobID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"job_steps"}, stepColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveJobResult(ctx, result))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "no errors should be logged on a clean commit")
	})

	t.Run("a stepless result skips the copy", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		result := sampleResult()
		result.Steps = nil
		result.TotalSteps = 0

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertJob)).
			WithArgs(
				result.JobID, result.Task, string(result.Status),
				result.FinalAnswer, result.Error,
				result.TotalSteps, result.ExecutionTimeSeconds,
				pgxmock.AnyArg(),
				result.StartedAt, result.FinishedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveJobResult(ctx, result))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rolls back when the copy fails", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		result := sampleResult()
		copyErr := errors.New("copy exploded")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertJob)).
			WithArgs(
				result.JobID, result.Task, string(result.Status),
				result.FinalAnswer, result.Error,
				result.TotalSteps, result.ExecutionTimeSeconds,
				pgxmock.AnyArg(),
				result.StartedAt, result.FinishedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(`DELETE FROM job_steps WHERE job_id = \$1;`).
			WithArgs(result.JobID).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"job_steps"}, stepColumns).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := s.SaveJobResult(ctx, result)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rejects a result without a job id", func(t *testing.T) {
		s, _ := newMockedStore(t)
		assert.Error(t, s.SaveJobResult(ctx, &schemas.JobResult{}))
		assert.Error(t, s.SaveJobResult(ctx, nil))
	})
}

func TestGetJobResult(t *testing.T) {
	ctx := context.Background()

	t.Run("reassembles the job with its steps in order", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		want := sampleResult()
		jobColumns := []string{"task", "status", "final_answer", "error", "total_steps", "execution_time_seconds", "shared_state", "started_at", "finished_at"}
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectJob)).
			WithArgs(want.JobID).
			WillReturnRows(pgxmock.NewRows(jobColumns).AddRow(
				want.Task, string(want.Status), want.FinalAnswer, want.Error,
				want.TotalSteps, want.ExecutionTimeSeconds,
				[]byte(`{"current_url":"https://example.com/pricing","extracted_data":{"price":"$49/mo"}}`),
				want.StartedAt, want.FinishedAt,
			))

		stepColumns := []string{"step_number", "mode", "tool_name", "action", "success", "result", "error", "context_size", "retry_count", "observed_at"}
		stepRows := pgxmock.NewRows(stepColumns)
		for _, step := range want.Steps {
			stepRows.AddRow(
				step.StepNumber, string(step.Mode), step.ToolName, step.Action,
				step.Success, step.Result, step.Error,
				step.ContextSize, step.RetryCount, step.Timestamp,
			)
		}
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectSteps)).
			WithArgs(want.JobID).
			WillReturnRows(stepRows)

		got, err := s.GetJobResult(ctx, want.JobID)
		require.NoError(t, err)
		assert.Equal(t, want.Task, got.Task)
		assert.Equal(t, want.Status, got.Status)
		assert.Equal(t, want.FinalAnswer, got.FinalAnswer)
		assert.Equal(t, "https://example.com/pricing", got.SharedState.CurrentURL)
		assert.Equal(t, "$49/mo", got.SharedState.ExtractedData["price"])
		require.Len(t, got.Steps, 2)
		assert.Equal(t, 1, got.Steps[0].StepNumber)
		assert.Equal(t, schemas.StepModeFinalAnswer, got.Steps[1].Mode)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("unknown job id", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectJob)).
			WithArgs("nope").
			WillReturnError(pgx.ErrNoRows)

		_, err := s.GetJobResult(ctx, "nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}
