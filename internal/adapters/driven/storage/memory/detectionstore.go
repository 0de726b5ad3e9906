package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
)

// Ensure DetectionStore implements the interface.
var _ driven.DetectionStore = (*DetectionStore)(nil)

// DetectionStore is an in-memory implementation of driven.DetectionStore.
// Content changes enqueue an index job on the paired IndexQueue while the
// store lock is held, so a record is never visible without its job.
type DetectionStore struct {
	mu         sync.RWMutex
	records    map[string]domain.DetectionRecord
	tombstones map[string]time.Time
	queue      *IndexQueue
}

// NewDetectionStore creates a new in-memory detection store that queues
// index jobs on queue.
func NewDetectionStore(queue *IndexQueue) *DetectionStore {
	return &DetectionStore{
		records:    make(map[string]domain.DetectionRecord),
		tombstones: make(map[string]time.Time),
		queue:      queue,
	}
}

// Put upserts a record by image ID.
func (s *DetectionStore) Put(_ context.Context, record *domain.DetectionRecord, opts domain.PutOptions) (int64, error) {
	if err := record.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[record.ImageID]
	var current int64
	if exists {
		current = existing.Version
	}
	if opts.ExpectedVersion > 0 && opts.ExpectedVersion != current {
		return 0, domain.ErrConflict
	}
	if exists && existing.SameContent(record) {
		return current, nil
	}

	stored := record.Clone()
	stored.Timestamp = stored.Timestamp.UTC()
	stored.Version = current + 1
	s.records[stored.ImageID] = *stored
	delete(s.tombstones, stored.ImageID)

	s.queue.mu.Lock()
	s.queue.put(domain.IndexJob{
		ImageID: stored.ImageID,
		UserID:  stored.UserID,
		Kind:    domain.IndexJobIndex,
		Version: stored.Version,
	})
	s.queue.mu.Unlock()

	return stored.Version, nil
}

// Get retrieves a record by image ID.
func (s *DetectionStore) Get(_ context.Context, imageID string) (*domain.DetectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[imageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

// ListByUser returns a user's records newest first, continuing after cursor.
func (s *DetectionStore) ListByUser(
	_ context.Context, userID string, cursor domain.Cursor, limit int,
) ([]domain.DetectionRecord, error) {
	s.mu.RLock()
	var matched []domain.DetectionRecord
	for _, rec := range s.records {
		if rec.UserID != userID {
			continue
		}
		if !cursor.After(rec.Timestamp.UnixNano(), rec.ImageID) {
			continue
		}
		matched = append(matched, *rec.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, compareRecency)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Delete removes a record and any queued index job for it.
func (s *DetectionStore) Delete(_ context.Context, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[imageID]; ok {
		delete(s.records, imageID)
		s.tombstones[imageID] = time.Now().UTC()
	}
	s.queue.mu.Lock()
	s.queue.drop(imageID)
	s.queue.mu.Unlock()
	return nil
}

// Tombstoned reports whether the image was explicitly deleted.
func (s *DetectionStore) Tombstoned(_ context.Context, imageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tombstones[imageID]
	return ok, nil
}

// Scan iterates every record in image ID order.
func (s *DetectionStore) Scan(_ context.Context, afterImageID string, limit int) ([]domain.DetectionRecord, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		if id > afterImageID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.DetectionRecord, len(ids))
	for i, id := range ids {
		rec := s.records[id]
		out[i] = *rec.Clone()
	}
	s.mu.RUnlock()
	return out, nil
}

// compareRecency orders by timestamp desc, then image ID desc.
func compareRecency(a, b domain.DetectionRecord) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(b.ImageID, a.ImageID)
}
