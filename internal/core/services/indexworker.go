package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driving"
	"github.com/custodia-labs/detectsearch/internal/logger"
)

// Ensure IndexWorker implements the interface.
var _ driving.IndexWorker = (*IndexWorker)(nil)

// IndexWorker applies queued label index updates.
//
// A job only names an image; applying it re-reads the record and projects
// whatever the store holds, so duplicate and out-of-order deliveries
// converge on the same index state.
type IndexWorker struct {
	ports    Ports
	coord    *Coordinator
	settings domain.IndexSettings
	proj     projector
	now      func() time.Time
}

// NewIndexWorker creates a new index worker.
func NewIndexWorker(ports Ports, coord *Coordinator, settings domain.Settings) *IndexWorker {
	return &IndexWorker{
		ports:    ports,
		coord:    coord,
		settings: settings.Index,
		proj:     projector{ports: ports, timeout: settings.Storage.OpTimeout},
		now:      time.Now,
	}
}

// Drain applies every due job once and returns how many were applied.
// Failed jobs are rescheduled with exponential backoff; after MaxAttempts
// they are dropped and left to repair. Drain stops early when ctx is done.
func (w *IndexWorker) Drain(ctx context.Context) (int, error) {
	logger.Section("Index Drain")

	var jobs []domain.IndexJob
	err := bounded(ctx, w.proj.timeout, func(ctx context.Context) error {
		var err error
		jobs, err = w.ports.Queue.Due(ctx, w.now(), w.settings.DrainBatch)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read index queue: %w", err)
	}
	logger.Debug("Due jobs: %d", len(jobs))

	applied := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if err := w.apply(ctx, job); err != nil {
			w.ports.metrics().ObserveIndexJob(string(job.Kind), false)
			w.fail(ctx, job, err)
			continue
		}
		w.ports.metrics().ObserveIndexJob(string(job.Kind), true)
		applied++
	}

	logger.Info("Applied %d of %d index jobs", applied, len(jobs))
	return applied, nil
}

// apply re-projects the job's image under the image lock and acknowledges it.
func (w *IndexWorker) apply(ctx context.Context, job domain.IndexJob) error {
	unlock, err := w.coord.Lock(ctx, job.ImageID)
	if err != nil {
		return err
	}
	defer unlock()

	version, err := w.proj.project(ctx, job.ImageID, job.UserID)
	if err != nil {
		return err
	}
	logger.Debug("Projected %s at version %d", job.ImageID, version)

	// A newer job queued since this one carries a higher version and survives the ack.
	return w.proj.ack(ctx, job.ImageID, max(version, job.Version))
}

// fail reschedules a job or gives up on it.
func (w *IndexWorker) fail(ctx context.Context, job domain.IndexJob, cause error) {
	attempts := job.Attempts + 1
	if w.settings.MaxAttempts > 0 && attempts >= w.settings.MaxAttempts {
		logger.Error("Giving up on index job for %s after %d attempts: %v", job.ImageID, attempts, cause)
		err := bounded(ctx, w.proj.timeout, func(ctx context.Context) error {
			return w.ports.Queue.Ack(ctx, job.ImageID, job.Version)
		})
		if err != nil {
			logger.Warn("Dropping index job for %s failed: %v", job.ImageID, err)
		}
		return
	}

	delay := Backoff(w.settings.RetryBase, w.settings.RetryMax, attempts)
	logger.Warn("Index job for %s failed (attempt %d), retrying in %s: %v", job.ImageID, attempts, delay, cause)
	err := bounded(ctx, w.proj.timeout, func(ctx context.Context) error {
		return w.ports.Queue.Retry(ctx, job.ID, w.now().Add(delay), cause.Error())
	})
	if err != nil {
		logger.Warn("Rescheduling index job for %s failed: %v", job.ImageID, err)
	}
}

// Backoff returns base doubled once per prior attempt, capped at limit.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if limit > 0 && delay >= limit {
			return limit
		}
	}
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}
