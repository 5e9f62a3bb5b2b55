package store

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
)

// Noop discards results. It stands in for the archive when no database is
// configured.
type Noop struct{}

var _ schemas.ResultStore = Noop{}

func (Noop) SaveJobResult(ctx context.Context, result *schemas.JobResult) error { return nil }

func (Noop) GetJobResult(ctx context.Context, jobID string) (*schemas.JobResult, error) {
	return nil, fmt.Errorf("job %s not found: result archive is disabled", jobID)
}

func (Noop) Close() {}
