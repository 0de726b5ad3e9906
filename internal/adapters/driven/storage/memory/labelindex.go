package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
)

// Ensure LabelIndex implements the interface.
var _ driven.LabelIndex = (*LabelIndex)(nil)

// indexedImage is the per-image projection state.
type indexedImage struct {
	userID    string
	version   int64
	timestamp int64
	labels    []string
}

// postingKey identifies one (user, label) posting list.
type postingKey struct {
	userID string
	label  string
}

// LabelIndex is an in-memory implementation of driven.LabelIndex.
type LabelIndex struct {
	mu       sync.RWMutex
	postings map[postingKey]map[string]int64 // imageID -> timestamp
	images   map[string]indexedImage
}

// NewLabelIndex creates a new in-memory label index.
func NewLabelIndex() *LabelIndex {
	return &LabelIndex{
		postings: make(map[postingKey]map[string]int64),
		images:   make(map[string]indexedImage),
	}
}

// Index projects every distinct label of the record into the index.
func (x *LabelIndex) Index(_ context.Context, record *domain.DetectionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if prev, ok := x.images[record.ImageID]; ok {
		if record.Version > 0 && prev.version >= record.Version {
			return nil
		}
		x.removeLocked(record.ImageID, prev)
	}

	ts := record.Timestamp.UTC().UnixNano()
	labels := record.Labels()
	for _, label := range labels {
		key := postingKey{userID: record.UserID, label: label}
		list, ok := x.postings[key]
		if !ok {
			list = make(map[string]int64)
			x.postings[key] = list
		}
		list[record.ImageID] = ts
	}
	x.images[record.ImageID] = indexedImage{
		userID:    record.UserID,
		version:   record.Version,
		timestamp: ts,
		labels:    labels,
	}
	return nil
}

// Unindex removes every entry for the image.
func (x *LabelIndex) Unindex(_ context.Context, imageID, _ string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if prev, ok := x.images[imageID]; ok {
		x.removeLocked(imageID, prev)
	}
	return nil
}

// removeLocked drops an image from its posting lists (caller must hold lock).
func (x *LabelIndex) removeLocked(imageID string, img indexedImage) {
	for _, label := range img.labels {
		key := postingKey{userID: img.userID, label: label}
		list := x.postings[key]
		delete(list, imageID)
		if len(list) == 0 {
			delete(x.postings, key)
		}
	}
	delete(x.images, imageID)
}

// Search returns hits for an exact normalised label, newest first.
func (x *LabelIndex) Search(
	_ context.Context, userID, label string, cursor domain.Cursor, limit int,
) ([]domain.LabelHit, error) {
	key := postingKey{userID: userID, label: domain.NormalizeLabel(label)}

	x.mu.RLock()
	list := x.postings[key]
	hits := make([]domain.LabelHit, 0, len(list))
	for imageID, ts := range list {
		if cursor.After(ts, imageID) {
			hits = append(hits, domain.LabelHit{
				ImageID:   imageID,
				UserID:    userID,
				Label:     key.label,
				Timestamp: ts,
			})
		}
	}
	x.mu.RUnlock()

	slices.SortFunc(hits, func(a, b domain.LabelHit) int {
		if c := cmp.Compare(b.Timestamp, a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ImageID, a.ImageID)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// IndexedVersion returns the record version currently projected for an image.
func (x *LabelIndex) IndexedVersion(_ context.Context, imageID string) (int64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.images[imageID].version, nil
}

// Labels returns the sorted labels indexed for an image.
func (x *LabelIndex) Labels(_ context.Context, imageID string) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	img, ok := x.images[imageID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(img.labels), nil
}

// ScanImages iterates indexed image IDs in order.
func (x *LabelIndex) ScanImages(_ context.Context, afterImageID string, limit int) ([]driven.IndexedImage, error) {
	x.mu.RLock()
	out := make([]driven.IndexedImage, 0, len(x.images))
	for id, img := range x.images {
		if id > afterImageID {
			out = append(out, driven.IndexedImage{ImageID: id, UserID: img.userID, Version: img.version})
		}
	}
	x.mu.RUnlock()

	slices.SortFunc(out, func(a, b driven.IndexedImage) int {
		return cmp.Compare(a.ImageID, b.ImageID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
