package storage

import (
	"context"

	"github.com/poiesic/vitae/core"
)

// RunRepository persists per-stage checkpoints for pipeline runs.
// Implementations must be thread-safe and support concurrent access.
type RunRepository interface {
	// SaveStage upserts the checkpoint for one (run, service, person,
	// stage) tuple, stamping UpdatedAt.
	SaveStage(ctx context.Context, checkpoint *core.StageCheckpoint) error

	// LoadStage retrieves one stage checkpoint.
	// Returns ErrNotFound if no checkpoint exists for the tuple.
	LoadStage(ctx context.Context, runID, service, person string, stageIndex int) (*core.StageCheckpoint, error)

	// ListStages retrieves every checkpoint for one person in one
	// service run, ordered by stage index ascending.
	ListStages(ctx context.Context, runID, service, person string) ([]*core.StageCheckpoint, error)

	// Close closes the storage backend and releases resources.
	Close() error
}
