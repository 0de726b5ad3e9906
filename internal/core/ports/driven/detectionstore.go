package driven

import (
	"context"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

// DetectionStore persists one DetectionRecord per image.
// Backed by SQLite for durable storage.
type DetectionStore interface {
	// Put upserts a record by ImageID and returns the stored version.
	// The whole Objects sequence is replaced atomically. Writing identical
	// content is a no-op that returns the existing version. Every content
	// change queues an index job in the same transaction.
	Put(ctx context.Context, record *domain.DetectionRecord, opts domain.PutOptions) (int64, error)

	// Get retrieves a record by image ID.
	// Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, imageID string) (*domain.DetectionRecord, error)

	// ListByUser returns a user's records newest first, continuing after cursor.
	ListByUser(ctx context.Context, userID string, cursor domain.Cursor, limit int) ([]domain.DetectionRecord, error)

	// Delete removes a record and any queued index jobs for it.
	// Deleting an absent record is not an error.
	Delete(ctx context.Context, imageID string) error

	// Tombstoned reports whether the image was explicitly deleted.
	Tombstoned(ctx context.Context, imageID string) (bool, error)

	// Scan iterates every record in image ID order, starting after afterImageID.
	Scan(ctx context.Context, afterImageID string, limit int) ([]domain.DetectionRecord, error)
}
