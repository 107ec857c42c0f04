package repository

import (
	"context"
	"time"

	"github.com/splax/etlwatch/internal/domain"
)

// RunQuery selects pipeline runs. A zero Since leaves the window unbounded and
// a zero Limit leaves the row count unbounded.
type RunQuery struct {
	Since    time.Time
	Filter   domain.UnitFilter
	Statuses []int
	Limit    int
}

// MessageQuery selects error-tagged event messages joined with their run.
type MessageQuery struct {
	Since     time.Time
	Filter    domain.UnitFilter
	RunStatus int
	Limit     int
}

// ExecutionRepository reads catalog executions and their event messages.
type ExecutionRepository interface {
	// ListRuns returns runs ordered by start time, most recent first.
	ListRuns(ctx context.Context, q RunQuery) ([]domain.PipelineRun, error)
	// ListErrorMessages returns error messages ordered by message time, most recent first.
	ListErrorMessages(ctx context.Context, q MessageQuery) ([]domain.EventMessage, error)
	// LatestErrorByPipeline returns the most recent error message per pipeline name.
	LatestErrorByPipeline(ctx context.Context, q MessageQuery) (map[string]domain.EventMessage, error)
	// LatestRunStatus returns the status of the most recent run per pipeline
	// name, ignoring any reporting window.
	LatestRunStatus(ctx context.Context, names []string) (map[string]int, error)
	Ping(ctx context.Context) error
}

// SourceResolver hands out the execution repository for a named data source.
// The empty name selects the default source.
type SourceResolver interface {
	Resolve(ctx context.Context, source string) (ExecutionRepository, error)
}
