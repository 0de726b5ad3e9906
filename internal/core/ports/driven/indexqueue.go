package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

// IndexQueue holds label index updates awaiting application.
// At most one job is pending per image; enqueueing replaces it with a fresh
// job. Jobs are delivered at least once.
type IndexQueue interface {
	// Enqueue adds or replaces the pending job for job.ImageID.
	// The store enqueues jobs itself on every content change; services
	// enqueue compensating jobs after partial failures.
	Enqueue(ctx context.Context, job domain.IndexJob) error

	// Due returns up to limit jobs whose NextAttempt is not after now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]domain.IndexJob, error)

	// Ack removes the pending job for an image if its version is not newer
	// than the version that was applied.
	Ack(ctx context.Context, imageID string, appliedVersion int64) error

	// Retry records a failed attempt and reschedules the job.
	// Retrying a job that was replaced or acknowledged is a no-op.
	Retry(ctx context.Context, jobID string, next time.Time, lastErr string) error

	// Pending returns the queued job for an image, or nil when none is queued.
	Pending(ctx context.Context, imageID string) (*domain.IndexJob, error)
}
