package attachments

import (
	"context"

	"github.com/mkarpova/fieldsync/internal/models"
)

// Repository describes durable storage for AttachmentRecords.
// Implementations are backed by the local SQLite database.
type Repository interface {
	// Insert stores a new record. The local id must be unused.
	Insert(ctx context.Context, a *models.AttachmentRecord) error

	// Update rewrites every column of an existing record, addressed by its
	// local id. Returns faults.ErrNotFound if the record does not exist.
	Update(ctx context.Context, a *models.AttachmentRecord) error

	// GetByLocalID returns one record by its client-minted id, checking the
	// reconciliation breadcrumb as well so references opened before an id
	// swap still resolve.
	GetByLocalID(ctx context.Context, localID string) (*models.AttachmentRecord, error)

	// GetByRemoteID returns one record by its server-issued id.
	GetByRemoteID(ctx context.Context, remoteID string) (*models.AttachmentRecord, error)

	// ListByKey returns all records for one question key, oldest first,
	// excluding records soft-deleted while their remote tombstone is queued.
	ListByKey(ctx context.Context, key models.QuestionKey) ([]*models.AttachmentRecord, error)

	// ListByStatus returns all records currently in the given status.
	ListByStatus(ctx context.Context, status models.AttachmentStatus) ([]*models.AttachmentRecord, error)

	// Delete removes a record permanently. Deletion is terminal; tombstone
	// operations for remote copies are the queue's concern.
	Delete(ctx context.Context, localID string) error
}
