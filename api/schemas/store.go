package schemas

import "context"

// ResultStore archives finished job results. Implementations are free to
// batch step rows, but a JobResult together with its steps must land
// atomically.
type ResultStore interface {
	// SaveJobResult persists one finalized result and its step records.
	SaveJobResult(ctx context.Context, result *JobResult) error
	// GetJobResult loads a previously saved result by job ID.
	GetJobResult(ctx context.Context, jobID string) (*JobResult, error)
	// Close releases the underlying connections.
	Close()
}
