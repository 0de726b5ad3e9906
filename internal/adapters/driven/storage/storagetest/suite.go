// Package storagetest holds behaviour tests shared by every storage adapter.
// Each adapter's test file calls Run with a factory producing fresh,
// empty backends.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
)

// Backends groups the storage ports under test.
type Backends struct {
	Store driven.DetectionStore
	Index driven.LabelIndex
	Queue driven.IndexQueue
}

// Factory returns empty backends. Cleanup is registered on t.
type Factory func(t *testing.T) Backends

// BaseTime is the timestamp of the first fixture record.
var BaseTime = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// Record builds a fixture record with the given labels.
func Record(imageID, userID string, ts time.Time, labels ...string) *domain.DetectionRecord {
	rec := &domain.DetectionRecord{
		ImageID:         imageID,
		UserID:          userID,
		Timestamp:       ts,
		ImageStorageRef: "gs://uploads/" + imageID + ".jpg",
		Objects:         []domain.DetectedObject{},
	}
	for i, label := range labels {
		offset := float64(i) * 0.05
		rec.Objects = append(rec.Objects, domain.DetectedObject{
			Label:      label,
			Confidence: 0.9 - offset,
			BoundingPolygon: []domain.Point{
				{X: 0.1 + offset, Y: 0.1},
				{X: 0.3 + offset, Y: 0.1},
				{X: 0.3 + offset, Y: 0.4},
				{X: 0.1 + offset, Y: 0.4},
			},
		})
	}
	return rec
}

// Run executes the shared suite.
func Run(t *testing.T, factory Factory) {
	t.Run("DetectionStore", func(t *testing.T) { runStore(t, factory) })
	t.Run("LabelIndex", func(t *testing.T) { runIndex(t, factory) })
	t.Run("IndexQueue", func(t *testing.T) { runQueue(t, factory) })
}

func runStore(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("put then get round trips", func(t *testing.T) {
		b := factory(t)
		rec := Record("img1", "u1", BaseTime, "Chair", "Lamp")

		version, err := b.Store.Put(ctx, rec, domain.PutOptions{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)

		got, err := b.Store.Get(ctx, "img1")
		require.NoError(t, err)
		assert.True(t, rec.SameContent(got), "stored record differs: %+v", got)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, time.UTC, got.Timestamp.Location())
	})

	t.Run("get missing returns not found", func(t *testing.T) {
		b := factory(t)
		_, err := b.Store.Get(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("put validates ids", func(t *testing.T) {
		b := factory(t)
		_, err := b.Store.Put(ctx, Record("", "u1", BaseTime), domain.PutOptions{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		_, err = b.Store.Put(ctx, Record("img1", "", BaseTime), domain.PutOptions{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("put rejects timestamps outside the nanosecond range", func(t *testing.T) {
		b := factory(t)
		for _, ts := range []time.Time{
			time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC),
		} {
			_, err := b.Store.Put(ctx, Record("img1", "u1", ts, "Chair"), domain.PutOptions{})
			assert.ErrorIs(t, err, domain.ErrInvalidInput, ts.String())
		}
		_, err := b.Store.Get(ctx, "img1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("put round trips the latest representable timestamp", func(t *testing.T) {
		b := factory(t)
		ts := domain.MaxTimestamp.Truncate(time.Second)
		_, err := b.Store.Put(ctx, Record("img1", "u1", ts, "Chair"), domain.PutOptions{})
		require.NoError(t, err)

		got, err := b.Store.Get(ctx, "img1")
		require.NoError(t, err)
		assert.True(t, ts.Equal(got.Timestamp), "got %s", got.Timestamp)
	})

	t.Run("identical put is a no-op", func(t *testing.T) {
		b := factory(t)
		rec := Record("img1", "u1", BaseTime, "Chair")

		v1, err := b.Store.Put(ctx, rec, domain.PutOptions{})
		require.NoError(t, err)
		require.NoError(t, b.Queue.Ack(ctx, "img1", v1))

		v2, err := b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Chair"), domain.PutOptions{})
		require.NoError(t, err)
		assert.Equal(t, v1, v2)

		job, err := b.Queue.Pending(ctx, "img1")
		require.NoError(t, err)
		assert.Nil(t, job, "no-op put must not queue an index job")
	})

	t.Run("re-detection replaces objects wholesale", func(t *testing.T) {
		b := factory(t)
		_, err := b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Chair", "Lamp"), domain.PutOptions{})
		require.NoError(t, err)

		v2, err := b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Table"), domain.PutOptions{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), v2)

		got, err := b.Store.Get(ctx, "img1")
		require.NoError(t, err)
		require.Len(t, got.Objects, 1)
		assert.Equal(t, "Table", got.Objects[0].Label)
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		b := factory(t)
		_, err := b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Chair"), domain.PutOptions{})
		require.NoError(t, err)
		_, err = b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Lamp"), domain.PutOptions{ExpectedVersion: 1})
		require.NoError(t, err)

		_, err = b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Table"), domain.PutOptions{ExpectedVersion: 1})
		assert.ErrorIs(t, err, domain.ErrConflict)

		got, err := b.Store.Get(ctx, "img1")
		require.NoError(t, err)
		assert.Equal(t, "Lamp", got.Objects[0].Label)
	})

	t.Run("list by user orders newest first and pages by cursor", func(t *testing.T) {
		b := factory(t)
		for i := 0; i < 5; i++ {
			rec := Record(fmt.Sprintf("img%d", i), "u1", BaseTime.Add(time.Duration(i)*time.Minute), "Chair")
			_, err := b.Store.Put(ctx, rec, domain.PutOptions{})
			require.NoError(t, err)
		}
		_, err := b.Store.Put(ctx, Record("other", "u2", BaseTime, "Chair"), domain.PutOptions{})
		require.NoError(t, err)

		page1, err := b.Store.ListByUser(ctx, "u1", domain.Cursor{}, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"img4", "img3"}, ids(page1))

		last := page1[len(page1)-1]
		page2, err := b.Store.ListByUser(ctx, "u1", domain.CursorFor(last.Timestamp, last.ImageID), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"img2", "img1", "img0"}, ids(page2))
	})

	t.Run("equal timestamps break ties on image id", func(t *testing.T) {
		b := factory(t)
		for _, id := range []string{"b", "c", "a"} {
			_, err := b.Store.Put(ctx, Record(id, "u1", BaseTime), domain.PutOptions{})
			require.NoError(t, err)
		}

		page1, err := b.Store.ListByUser(ctx, "u1", domain.Cursor{}, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b"}, ids(page1))

		page2, err := b.Store.ListByUser(ctx, "u1", domain.CursorFor(BaseTime, "b"), 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(page2))
	})

	t.Run("inserts after cursor issuance do not disturb later pages", func(t *testing.T) {
		b := factory(t)
		for i := 0; i < 4; i++ {
			rec := Record(fmt.Sprintf("img%d", i), "u1", BaseTime.Add(time.Duration(i)*time.Minute))
			_, err := b.Store.Put(ctx, rec, domain.PutOptions{})
			require.NoError(t, err)
		}

		page1, err := b.Store.ListByUser(ctx, "u1", domain.Cursor{}, 2)
		require.NoError(t, err)
		last := page1[len(page1)-1]

		_, err = b.Store.Put(ctx, Record("newest", "u1", BaseTime.Add(time.Hour)), domain.PutOptions{})
		require.NoError(t, err)

		page2, err := b.Store.ListByUser(ctx, "u1", domain.CursorFor(last.Timestamp, last.ImageID), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"img1", "img0"}, ids(page2))
	})

	t.Run("delete is idempotent and tombstones", func(t *testing.T) {
		b := factory(t)
		_, err := b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Chair"), domain.PutOptions{})
		require.NoError(t, err)

		require.NoError(t, b.Store.Delete(ctx, "img1"))
		require.NoError(t, b.Store.Delete(ctx, "img1"))
		require.NoError(t, b.Store.Delete(ctx, "never-existed"))

		_, err = b.Store.Get(ctx, "img1")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		dead, err := b.Store.Tombstoned(ctx, "img1")
		require.NoError(t, err)
		assert.True(t, dead)

		job, err := b.Queue.Pending(ctx, "img1")
		require.NoError(t, err)
		assert.Nil(t, job, "delete drops queued index jobs")
	})

	t.Run("put after delete clears tombstone", func(t *testing.T) {
		b := factory(t)
		_, err := b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Chair"), domain.PutOptions{})
		require.NoError(t, err)
		require.NoError(t, b.Store.Delete(ctx, "img1"))

		_, err = b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Chair"), domain.PutOptions{})
		require.NoError(t, err)

		dead, err := b.Store.Tombstoned(ctx, "img1")
		require.NoError(t, err)
		assert.False(t, dead)
	})

	t.Run("scan iterates in image id order", func(t *testing.T) {
		b := factory(t)
		for _, id := range []string{"c", "a", "d", "b"} {
			_, err := b.Store.Put(ctx, Record(id, "u"+id, BaseTime), domain.PutOptions{})
			require.NoError(t, err)
		}

		first, err := b.Store.Scan(ctx, "", 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(first))

		rest, err := b.Store.Scan(ctx, "c", 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"d"}, ids(rest))
	})
}

func runIndex(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("search is exact and case-insensitive", func(t *testing.T) {
		b := factory(t)
		rec := Record("img1", "u1", BaseTime, "Chair", "Lamp")
		rec.Version = 1
		require.NoError(t, b.Index.Index(ctx, rec))

		for _, q := range []string{"chair", "Chair", " CHAIR "} {
			hits, err := b.Index.Search(ctx, "u1", q, domain.Cursor{}, 10)
			require.NoError(t, err)
			require.Len(t, hits, 1, "query %q", q)
			assert.Equal(t, "img1", hits[0].ImageID)
			assert.Equal(t, "chair", hits[0].Label)
		}

		hits, err := b.Index.Search(ctx, "u1", "cha", domain.Cursor{}, 10)
		require.NoError(t, err)
		assert.Empty(t, hits, "substring matching is not supported")

		hits, err = b.Index.Search(ctx, "u2", "chair", domain.Cursor{}, 10)
		require.NoError(t, err)
		assert.Empty(t, hits, "other users never see the image")
	})

	t.Run("reindex replaces labels", func(t *testing.T) {
		b := factory(t)
		rec := Record("img1", "u1", BaseTime, "Chair")
		rec.Version = 1
		require.NoError(t, b.Index.Index(ctx, rec))

		next := Record("img1", "u1", BaseTime, "Table")
		next.Version = 2
		require.NoError(t, b.Index.Index(ctx, next))

		hits, err := b.Index.Search(ctx, "u1", "chair", domain.Cursor{}, 10)
		require.NoError(t, err)
		assert.Empty(t, hits)

		labels, err := b.Index.Labels(ctx, "img1")
		require.NoError(t, err)
		assert.Equal(t, []string{"table"}, labels)

		version, err := b.Index.IndexedVersion(ctx, "img1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
	})

	t.Run("older version is a no-op", func(t *testing.T) {
		b := factory(t)
		rec := Record("img1", "u1", BaseTime, "Table")
		rec.Version = 3
		require.NoError(t, b.Index.Index(ctx, rec))

		stale := Record("img1", "u1", BaseTime, "Chair")
		stale.Version = 2
		require.NoError(t, b.Index.Index(ctx, stale))
		require.NoError(t, b.Index.Index(ctx, stale))

		labels, err := b.Index.Labels(ctx, "img1")
		require.NoError(t, err)
		assert.Equal(t, []string{"table"}, labels)
	})

	t.Run("unindex removes every entry", func(t *testing.T) {
		b := factory(t)
		rec := Record("img1", "u1", BaseTime, "Chair", "Lamp")
		rec.Version = 1
		require.NoError(t, b.Index.Index(ctx, rec))

		require.NoError(t, b.Index.Unindex(ctx, "img1", "u1"))
		require.NoError(t, b.Index.Unindex(ctx, "img1", "u1"))

		for _, label := range []string{"chair", "lamp"} {
			hits, err := b.Index.Search(ctx, "u1", label, domain.Cursor{}, 10)
			require.NoError(t, err)
			assert.Empty(t, hits)
		}
		version, err := b.Index.IndexedVersion(ctx, "img1")
		require.NoError(t, err)
		assert.Zero(t, version)
	})

	t.Run("search pages newest first", func(t *testing.T) {
		b := factory(t)
		for i := 0; i < 5; i++ {
			rec := Record(fmt.Sprintf("img%d", i), "u1", BaseTime.Add(time.Duration(i)*time.Second), "Chair")
			rec.Version = 1
			require.NoError(t, b.Index.Index(ctx, rec))
		}

		page1, err := b.Index.Search(ctx, "u1", "chair", domain.Cursor{}, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"img4", "img3", "img2"}, hitIDs(page1))

		page2, err := b.Index.Search(ctx, "u1", "chair", page1[2].Cursor(), 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"img1", "img0"}, hitIDs(page2))
	})

	t.Run("empty record is indexed with no labels", func(t *testing.T) {
		b := factory(t)
		rec := Record("img1", "u1", BaseTime)
		rec.Version = 1
		require.NoError(t, b.Index.Index(ctx, rec))

		version, err := b.Index.IndexedVersion(ctx, "img1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)
	})

	t.Run("scan images lists indexed images", func(t *testing.T) {
		b := factory(t)
		for _, id := range []string{"b", "a", "c"} {
			rec := Record(id, "u1", BaseTime, "Chair")
			rec.Version = 1
			require.NoError(t, b.Index.Index(ctx, rec))
		}

		images, err := b.Index.ScanImages(ctx, "a", 10)
		require.NoError(t, err)
		require.Len(t, images, 2)
		assert.Equal(t, "b", images[0].ImageID)
		assert.Equal(t, "u1", images[0].UserID)
		assert.Equal(t, "c", images[1].ImageID)
	})

	t.Run("index rejects invalid records", func(t *testing.T) {
		b := factory(t)
		err := b.Index.Index(ctx, Record("", "u1", BaseTime, "Chair"))
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func runQueue(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("put queues one job per image", func(t *testing.T) {
		b := factory(t)
		_, err := b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Chair"), domain.PutOptions{})
		require.NoError(t, err)
		_, err = b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Lamp"), domain.PutOptions{})
		require.NoError(t, err)

		jobs, err := b.Queue.Due(ctx, time.Now().Add(time.Second), 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "img1", jobs[0].ImageID)
		assert.Equal(t, "u1", jobs[0].UserID)
		assert.Equal(t, int64(2), jobs[0].Version)
		assert.Equal(t, domain.IndexJobIndex, jobs[0].Kind)
		assert.NotEmpty(t, jobs[0].ID)
	})

	t.Run("ack ignores older applied versions", func(t *testing.T) {
		b := factory(t)
		_, err := b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Chair"), domain.PutOptions{})
		require.NoError(t, err)
		_, err = b.Store.Put(ctx, Record("img1", "u1", BaseTime, "Lamp"), domain.PutOptions{})
		require.NoError(t, err)

		require.NoError(t, b.Queue.Ack(ctx, "img1", 1))
		job, err := b.Queue.Pending(ctx, "img1")
		require.NoError(t, err)
		require.NotNil(t, job)

		require.NoError(t, b.Queue.Ack(ctx, "img1", 2))
		job, err = b.Queue.Pending(ctx, "img1")
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("retry reschedules and counts attempts", func(t *testing.T) {
		b := factory(t)
		require.NoError(t, b.Queue.Enqueue(ctx, domain.IndexJob{
			ImageID: "img1", UserID: "u1", Kind: domain.IndexJobUnindex,
		}))

		jobs, err := b.Queue.Due(ctx, time.Now().Add(time.Second), 10)
		require.NoError(t, err)
		require.Len(t, jobs, 1)

		later := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		require.NoError(t, b.Queue.Retry(ctx, jobs[0].ID, later, "boom"))

		jobs, err = b.Queue.Due(ctx, time.Now().Add(time.Second), 10)
		require.NoError(t, err)
		assert.Empty(t, jobs)

		job, err := b.Queue.Pending(ctx, "img1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, 1, job.Attempts)
		assert.Equal(t, "boom", job.LastError)
		assert.True(t, job.NextAttempt.Equal(later))
		assert.Equal(t, domain.IndexJobUnindex, job.Kind)
	})

	t.Run("retry of a replaced job is a no-op", func(t *testing.T) {
		b := factory(t)
		require.NoError(t, b.Queue.Enqueue(ctx, domain.IndexJob{ImageID: "img1", Kind: domain.IndexJobIndex}))
		first, err := b.Queue.Pending(ctx, "img1")
		require.NoError(t, err)

		require.NoError(t, b.Queue.Enqueue(ctx, domain.IndexJob{ImageID: "img1", Kind: domain.IndexJobIndex, Version: 4}))
		require.NoError(t, b.Queue.Retry(ctx, first.ID, time.Now().Add(time.Hour), "late"))

		job, err := b.Queue.Pending(ctx, "img1")
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, job.ID)
		assert.Zero(t, job.Attempts)
		assert.Equal(t, int64(4), job.Version)
	})
}

func ids(records []domain.DetectionRecord) []string {
	out := make([]string, len(records))
	for i := range records {
		out[i] = records[i].ImageID
	}
	return out
}

func hitIDs(hits []domain.LabelHit) []string {
	out := make([]string, len(hits))
	for i := range hits {
		out[i] = hits[i].ImageID
	}
	return out
}
