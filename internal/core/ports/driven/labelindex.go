package driven

import (
	"context"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

// LabelIndex maps (user, normalised label) to image references ordered by recency.
// It holds back-references only, never a copy of the record.
type LabelIndex interface {
	// Index projects every distinct label of the record into the index,
	// replacing entries from earlier versions. Indexing a version that is not
	// newer than the one already indexed is a no-op.
	Index(ctx context.Context, record *domain.DetectionRecord) error

	// Unindex removes every entry for the image.
	Unindex(ctx context.Context, imageID, userID string) error

	// Search returns hits for an exact normalised label, newest first,
	// continuing after cursor.
	Search(ctx context.Context, userID, label string, cursor domain.Cursor, limit int) ([]domain.LabelHit, error)

	// IndexedVersion returns the record version currently projected for an
	// image, or zero when the image is not indexed.
	IndexedVersion(ctx context.Context, imageID string) (int64, error)

	// Labels returns the sorted labels indexed for an image.
	Labels(ctx context.Context, imageID string) ([]string, error)

	// ScanImages iterates indexed image IDs in order, starting after afterImageID.
	ScanImages(ctx context.Context, afterImageID string, limit int) ([]IndexedImage, error)
}

// IndexedImage identifies an image present in the label index.
type IndexedImage struct {
	ImageID string
	UserID  string
	Version int64
}
