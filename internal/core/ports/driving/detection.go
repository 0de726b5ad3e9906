package driving

import (
	"context"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

// DetectionService manages stored detection records.
type DetectionService interface {
	// Get retrieves a record by image ID.
	Get(ctx context.Context, imageID string) (*domain.DetectionRecord, error)

	// ListByUser returns a page of a user's records, newest first.
	ListByUser(ctx context.Context, userID string, opts domain.SearchOptions) (*domain.RecordPage, error)

	// Delete removes a record and every label index entry referencing it.
	// It is idempotent.
	Delete(ctx context.Context, imageID string) error

	// State reports where the image is in the record lifecycle.
	// Returns domain.ErrNotFound for images never seen.
	State(ctx context.Context, imageID string) (domain.RecordState, error)
}
