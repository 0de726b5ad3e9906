package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driving"
	"github.com/custodia-labs/detectsearch/internal/logger"
)

// Ensure DetectionService implements the interface.
var _ driving.DetectionService = (*DetectionService)(nil)

// DetectionService manages stored detection records.
type DetectionService struct {
	ports    Ports
	coord    *Coordinator
	settings domain.Settings
}

// NewDetectionService creates a new detection service.
func NewDetectionService(ports Ports, coord *Coordinator, settings domain.Settings) *DetectionService {
	return &DetectionService{
		ports:    ports,
		coord:    coord,
		settings: settings,
	}
}

// Get retrieves a record by image ID.
func (s *DetectionService) Get(ctx context.Context, imageID string) (*domain.DetectionRecord, error) {
	if imageID == "" {
		return nil, domain.NewValidationError("imageId", "is empty")
	}
	var rec *domain.DetectionRecord
	err := bounded(ctx, s.settings.Storage.OpTimeout, func(ctx context.Context) error {
		var err error
		rec, err = s.ports.Store.Get(ctx, imageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByUser returns a page of a user's records, newest first.
func (s *DetectionService) ListByUser(
	ctx context.Context, userID string, opts domain.SearchOptions,
) (*domain.RecordPage, error) {
	if userID == "" {
		return nil, domain.NewValidationError("userId", "is empty")
	}
	cursor, err := domain.DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = s.settings.Search.DefaultLimit
	}
	limit := opts.PageSize()

	var records []domain.DetectionRecord
	err = bounded(ctx, s.settings.Storage.OpTimeout, func(ctx context.Context) error {
		records, err = s.ports.Store.ListByUser(ctx, userID, cursor, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	page := &domain.RecordPage{Records: records}
	if len(records) == limit {
		last := records[len(records)-1]
		page.NextCursor = domain.CursorFor(last.Timestamp, last.ImageID).Encode()
	}
	return page, nil
}

// Delete removes the image's label index entries, then its record.
//
// If the record delete fails after the index entries are gone, a compensating
// index job is queued and the error is returned; until that job or a repair
// runs, the record exists but is not searchable.
func (s *DetectionService) Delete(ctx context.Context, imageID string) error {
	if imageID == "" {
		return domain.NewValidationError("imageId", "is empty")
	}
	timeout := s.settings.Storage.OpTimeout

	unlock, err := s.coord.Lock(ctx, imageID)
	if err != nil {
		return fmt.Errorf("lock image %s: %w", imageID, err)
	}
	defer unlock()

	var userID string
	err = bounded(ctx, timeout, func(ctx context.Context) error {
		rec, err := s.ports.Store.Get(ctx, imageID)
		if err == nil {
			userID = rec.UserID
		}
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("read record %s: %w", imageID, err)
	}

	err = bounded(ctx, timeout, func(ctx context.Context) error {
		return s.ports.Index.Unindex(ctx, imageID, userID)
	})
	if err != nil {
		s.ports.metrics().ObserveError("delete")
		return fmt.Errorf("unindex %s: %w", imageID, err)
	}

	err = bounded(ctx, timeout, func(ctx context.Context) error {
		return s.ports.Store.Delete(ctx, imageID)
	})
	if err != nil {
		s.ports.metrics().ObserveError("delete")
		s.compensate(ctx, imageID, userID)
		return fmt.Errorf("delete record %s (index entries removed, record not yet deleted): %w", imageID, err)
	}

	logger.Info("Deleted %s", imageID)
	return nil
}

// compensate queues a re-projection so the index catches up with whatever
// the store holds after a failed delete.
func (s *DetectionService) compensate(ctx context.Context, imageID, userID string) {
	err := bounded(ctx, s.settings.Storage.OpTimeout, func(ctx context.Context) error {
		return s.ports.Queue.Enqueue(ctx, domain.IndexJob{
			ImageID: imageID,
			UserID:  userID,
			Kind:    domain.IndexJobIndex,
		})
	})
	if err != nil {
		logger.Error("Image %s is unindexed but still stored; run repair: %v", imageID, err)
		return
	}
	logger.Warn("Image %s is unindexed but still stored; queued re-index", imageID)
}

// State reports where the image is in the record lifecycle.
func (s *DetectionService) State(ctx context.Context, imageID string) (domain.RecordState, error) {
	if imageID == "" {
		return "", domain.NewValidationError("imageId", "is empty")
	}
	timeout := s.settings.Storage.OpTimeout

	var rec *domain.DetectionRecord
	err := bounded(ctx, timeout, func(ctx context.Context) error {
		var err error
		rec, err = s.ports.Store.Get(ctx, imageID)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if s.coord.ingesting(imageID) {
			return domain.StatePending, nil
		}
		var dead bool
		err = bounded(ctx, timeout, func(ctx context.Context) error {
			var err error
			dead, err = s.ports.Store.Tombstoned(ctx, imageID)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("read tombstone %s: %w", imageID, err)
		}
		if dead {
			return domain.StateDeleted, nil
		}
		return "", domain.ErrNotFound
	case err != nil:
		return "", fmt.Errorf("read record %s: %w", imageID, err)
	}

	var indexed int64
	err = bounded(ctx, timeout, func(ctx context.Context) error {
		var err error
		indexed, err = s.ports.Index.IndexedVersion(ctx, imageID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("read indexed version %s: %w", imageID, err)
	}
	if indexed >= rec.Version {
		return domain.StateIndexed, nil
	}
	return domain.StateStored, nil
}
