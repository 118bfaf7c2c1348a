package pendingops

import (
	"context"

	"github.com/mkarpova/fieldsync/internal/models"
)

// Repository is the durable FIFO queue of pending operations. An operation
// survives process restart from the moment Enqueue returns until Delete
// confirms its success.
type Repository interface {
	// Enqueue appends an operation and assigns op.Seq.
	Enqueue(ctx context.Context, op *models.PendingOp) error

	// List returns every queued operation in submission order.
	List(ctx context.Context) ([]*models.PendingOp, error)

	// ListByLocalID returns queued operations referencing the given local id,
	// in submission order.
	ListByLocalID(ctx context.Context, localID string) ([]*models.PendingOp, error)

	// Delete removes one completed (or cancelled) operation.
	Delete(ctx context.Context, seq int64) error

	// DeleteByLocalID cancels every queued operation referencing the local
	// id and returns how many were removed.
	DeleteByLocalID(ctx context.Context, localID string) (int64, error)

	// SetAttempts persists the retry counter for one operation.
	SetAttempts(ctx context.Context, seq int64, attempts int) error
}
