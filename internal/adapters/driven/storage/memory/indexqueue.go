package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
)

// Ensure IndexQueue implements the interface.
var _ driven.IndexQueue = (*IndexQueue)(nil)

// IndexQueue is an in-memory implementation of driven.IndexQueue.
// Jobs are keyed by image ID so at most one is pending per image.
type IndexQueue struct {
	mu   sync.Mutex
	jobs map[string]domain.IndexJob
	now  func() time.Time
}

// NewIndexQueue creates a new in-memory index queue.
func NewIndexQueue() *IndexQueue {
	return &IndexQueue{
		jobs: make(map[string]domain.IndexJob),
		now:  time.Now,
	}
}

// Enqueue adds or replaces the pending job for job.ImageID.
func (q *IndexQueue) Enqueue(_ context.Context, job domain.IndexJob) error {
	if job.ImageID == "" {
		return domain.NewValidationError("imageId", "is empty")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.put(job)
	return nil
}

// put stores a fresh copy of the job (caller must hold lock).
func (q *IndexQueue) put(job domain.IndexJob) {
	now := q.now().UTC()
	job.ID = uuid.NewString()
	job.Attempts = 0
	job.LastError = ""
	job.CreatedAt = now
	if job.NextAttempt.IsZero() {
		job.NextAttempt = now
	}
	q.jobs[job.ImageID] = job
}

// drop removes any pending job for an image (caller must hold lock).
func (q *IndexQueue) drop(imageID string) {
	delete(q.jobs, imageID)
}

// Due returns up to limit jobs whose NextAttempt is not after now, oldest first.
func (q *IndexQueue) Due(_ context.Context, now time.Time, limit int) ([]domain.IndexJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	due := make([]domain.IndexJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		if !job.NextAttempt.After(now) {
			due = append(due, job)
		}
	}
	slices.SortFunc(due, func(a, b domain.IndexJob) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ImageID, b.ImageID)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Ack removes the pending job for an image if it is not newer than appliedVersion.
func (q *IndexQueue) Ack(_ context.Context, imageID string, appliedVersion int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[imageID]; ok && job.Version <= appliedVersion {
		delete(q.jobs, imageID)
	}
	return nil
}

// Retry records a failed attempt and reschedules the job.
func (q *IndexQueue) Retry(_ context.Context, jobID string, next time.Time, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for imageID, job := range q.jobs {
		if job.ID != jobID {
			continue
		}
		job.Attempts++
		job.NextAttempt = next
		job.LastError = lastErr
		q.jobs[imageID] = job
		return nil
	}
	return nil
}

// Pending returns the queued job for an image, or nil when none is queued.
func (q *IndexQueue) Pending(_ context.Context, imageID string) (*domain.IndexJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[imageID]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

// Len returns the number of queued jobs.
func (q *IndexQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
