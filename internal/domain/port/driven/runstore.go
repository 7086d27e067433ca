package driven

import (
	"context"

	"github.com/mlaurent/sellsync/internal/domain/model"
)

// RunStore defines the driven port for run-history persistence.
type RunStore interface {
	// Upsert stores or replaces a run together with its step results. It is
	// called once when a run starts (status running, no steps) and again when
	// it finishes.
	Upsert(ctx context.Context, run model.SyncRun) error

	// GetByID retrieves a run with its steps. Returns (nil, nil) when no run
	// with that id exists.
	GetByID(ctx context.Context, id string) (*model.SyncRun, error)

	// ListRecent returns up to limit runs ordered by start time, newest
	// first, each with its steps.
	ListRecent(ctx context.Context, limit int) ([]model.SyncRun, error)
}
