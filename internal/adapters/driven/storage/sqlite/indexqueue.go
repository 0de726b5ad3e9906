package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
)

// indexQueue implements driven.IndexQueue over the index_jobs outbox table.
type indexQueue struct {
	store *Store
}

var _ driven.IndexQueue = (*indexQueue)(nil)

const jobColumns = "id, image_id, user_id, kind, version, attempts, next_attempt, last_error, created_at"

// Enqueue adds or replaces the pending job for job.ImageID.
func (q *indexQueue) Enqueue(ctx context.Context, job domain.IndexJob) error {
	if job.ImageID == "" {
		return domain.NewValidationError("imageId", "is empty")
	}
	return q.store.withTx(ctx, func(tx *sql.Tx) error {
		return upsertJob(ctx, tx, job, time.Now().UTC())
	})
}

// upsertJob writes a fresh job for the image, replacing any pending one.
func upsertJob(ctx context.Context, tx *sql.Tx, job domain.IndexJob, now time.Time) error {
	next := job.NextAttempt
	if next.IsZero() {
		next = now
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO index_jobs (id, image_id, user_id, kind, version, attempts, next_attempt, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, NULL, ?)
		ON CONFLICT(image_id) DO UPDATE SET
			id = excluded.id,
			user_id = excluded.user_id,
			kind = excluded.kind,
			version = excluded.version,
			attempts = 0,
			next_attempt = excluded.next_attempt,
			last_error = NULL,
			created_at = excluded.created_at
	`, uuid.NewString(), job.ImageID, job.UserID, string(job.Kind), job.Version,
		next.UTC().UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("queueing index job: %w", classify(err))
	}
	return nil
}

// Due returns up to limit jobs whose NextAttempt is not after now, oldest first.
func (q *indexQueue) Due(ctx context.Context, now time.Time, limit int) ([]domain.IndexJob, error) {
	rows, err := q.store.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM index_jobs
		WHERE next_attempt <= ?
		ORDER BY created_at, image_id
		LIMIT ?
	`, now.UTC().UnixNano(), sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying index jobs: %w", classify(err))
	}
	defer rows.Close()

	jobs := []domain.IndexJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating index jobs: %w", classify(err))
	}
	return jobs, nil
}

// Ack removes the pending job for an image if it is not newer than appliedVersion.
func (q *indexQueue) Ack(ctx context.Context, imageID string, appliedVersion int64) error {
	_, err := q.store.db.ExecContext(ctx,
		"DELETE FROM index_jobs WHERE image_id = ? AND version <= ?", imageID, appliedVersion)
	if err != nil {
		return fmt.Errorf("acknowledging index job: %w", classify(err))
	}
	return nil
}

// Retry records a failed attempt and reschedules the job.
func (q *indexQueue) Retry(ctx context.Context, jobID string, next time.Time, lastErr string) error {
	_, err := q.store.db.ExecContext(ctx, `
		UPDATE index_jobs SET attempts = attempts + 1, next_attempt = ?, last_error = ?
		WHERE id = ?
	`, next.UTC().UnixNano(), nullString(lastErr), jobID)
	if err != nil {
		return fmt.Errorf("rescheduling index job: %w", classify(err))
	}
	return nil
}

// Pending returns the queued job for an image, or nil when none is queued.
func (q *indexQueue) Pending(ctx context.Context, imageID string) (*domain.IndexJob, error) {
	job, err := scanJob(q.store.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM index_jobs WHERE image_id = ?", imageID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// scanJob scans an index job row.
func scanJob(row rowScanner) (*domain.IndexJob, error) {
	var job domain.IndexJob
	var kind string
	var nextAttempt, createdAt int64
	var lastError sql.NullString

	if err := row.Scan(&job.ID, &job.ImageID, &job.UserID, &kind, &job.Version,
		&job.Attempts, &nextAttempt, &lastError, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning index job: %w", classify(err))
	}

	job.Kind = domain.IndexJobKind(kind)
	job.NextAttempt = fromNanos(nextAttempt)
	job.CreatedAt = fromNanos(createdAt)
	job.LastError = lastError.String

	return &job, nil
}
