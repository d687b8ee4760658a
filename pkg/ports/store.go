package ports

import (
	"context"

	"github.com/aretw0/sluice/pkg/domain"
)

// Store is the durable record of engine state. Writes happen
// synchronously right after each state-changing operation; a failed write
// must surface to the caller, never be swallowed.
//
// Process definitions are deliberately not part of the contract. They are
// redeployed by the composition root at boot, and recovery attaches
// persisted instances only to definitions already present in memory.
type Store interface {
	// SaveInstance upserts the instance row and every token row it
	// carries in one call. Retired tokens are written with their active
	// flag cleared, keeping the audit trail intact.
	SaveInstance(ctx context.Context, inst *domain.ProcessInstance) error

	// SaveTask upserts a single task row.
	SaveTask(ctx context.Context, task *domain.TaskInstance) error

	// LoadActiveInstances returns every ACTIVE instance, each carrying
	// only its active tokens.
	LoadActiveInstances(ctx context.Context) ([]*domain.ProcessInstance, error)

	// LoadActiveTasks returns every ACTIVE task row.
	LoadActiveTasks(ctx context.Context) ([]*domain.TaskInstance, error)

	// Close releases the underlying resources.
	Close() error
}
