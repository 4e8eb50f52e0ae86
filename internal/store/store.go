// Package store persists reconciliation run history, cross-run conversion
// markers and skipped records.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/model"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for reconciliation runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, dryRun bool, stage string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result *model.UploadResult) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Markers
	ReconciledKeys(ctx context.Context, keys []model.ReconciledKey) (map[model.ReconciledKey]bool, error)
	MarkReconciled(ctx context.Context, runID string, keys []model.ReconciledKey) error

	// Skipped records
	RecordSkipped(ctx context.Context, runID string, records []model.SkippedRecord) error
	ListSkipped(ctx context.Context, runID string) ([]model.SkippedRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// defaultListLimit caps ListRuns when no limit is given.
const defaultListLimit = 100

func listLimit(f RunFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func parseStage(s string) model.Stage {
	var st model.Stage
	if err := st.UnmarshalText([]byte(s)); err != nil {
		return model.StageUnknown
	}
	return st
}
