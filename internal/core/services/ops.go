package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
)

// Ports groups the driven ports the detection services share.
type Ports struct {
	Store driven.DetectionStore
	Index driven.LabelIndex
	Queue driven.IndexQueue

	// Metrics is optional.
	Metrics driven.Metrics
}

func (p Ports) metrics() driven.Metrics {
	if p.Metrics == nil {
		return nopMetrics{}
	}
	return p.Metrics
}

// bounded runs fn with a deadline of timeout. An expired deadline is
// reported as domain.ErrTransientStorage.
func bounded(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return transient(fn(ctx))
}

// transient marks deadline errors as retryable storage failures.
func transient(err error) error {
	if err == nil || errors.Is(err, domain.ErrTransientStorage) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
	}
	return err
}

// projector brings label index entries in line with the store.
type projector struct {
	ports   Ports
	timeout time.Duration
}

// project re-reads imageID from the store and indexes or unindexes it.
// It returns the record version now projected, zero when the image was
// removed from the index. The caller holds the image lock.
func (p projector) project(ctx context.Context, imageID, userID string) (int64, error) {
	var rec *domain.DetectionRecord
	err := bounded(ctx, p.timeout, func(ctx context.Context) error {
		var err error
		rec, err = p.ports.Store.Get(ctx, imageID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		err = bounded(ctx, p.timeout, func(ctx context.Context) error {
			return p.ports.Index.Unindex(ctx, imageID, userID)
		})
		if err != nil {
			return 0, fmt.Errorf("unindex %s: %w", imageID, err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read record %s: %w", imageID, err)
	}
	if err := p.index(ctx, rec); err != nil {
		return 0, err
	}
	return rec.Version, nil
}

// index projects a record that was just read or written.
func (p projector) index(ctx context.Context, rec *domain.DetectionRecord) error {
	err := bounded(ctx, p.timeout, func(ctx context.Context) error {
		return p.ports.Index.Index(ctx, rec)
	})
	if err != nil {
		return fmt.Errorf("index %s: %w", rec.ImageID, err)
	}
	return nil
}

// ack clears the queued job once version is applied. Failures leave the job
// queued, which only costs a redundant re-application.
func (p projector) ack(ctx context.Context, imageID string, version int64) error {
	return bounded(ctx, p.timeout, func(ctx context.Context) error {
		return p.ports.Queue.Ack(ctx, imageID, version)
	})
}

// nopMetrics discards observations.
type nopMetrics struct{}

func (nopMetrics) ObserveIngest(int, int, time.Duration) {}
func (nopMetrics) ObserveIndexJob(string, bool) {}
func (nopMetrics) ObserveSearch(int, int, time.Duration) {}
func (nopMetrics) ObserveRepair(int, int) {}
func (nopMetrics) ObserveError(string) {}
