package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

func TestIndexWorker_DrainAppliesQueuedJobs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.mustIngest(t, event("img1", "u1", T1, "Chair"))
		h.mustIngest(t, event("img2", "u1", T1.Add(time.Minute), "Chair", "Lamp"))

		applied, err := h.worker.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, applied)
		assert.Equal(t, []string{"img2", "img1"}, h.searchIDs(t, "u1", "chair"))
		assert.Equal(t, []string{"img2"}, h.searchIDs(t, "u1", "lamp"))
		assert.Equal(t, 2, h.metrics.jobsOK)

		applied, err = h.worker.Drain(ctx)
		require.NoError(t, err)
		assert.Zero(t, applied, "queue is empty after acknowledgement")
	}, asyncMode)
}

func TestIndexWorker_CoalescesUpdatesToLatestVersion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.mustIngest(t, event("img1", "u1", T1, "Chair"))
		h.mustIngest(t, event("img1", "u1", T1, "Lamp"))

		applied, err := h.worker.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, applied, "one job per image")
		assert.Empty(t, h.searchIDs(t, "u1", "chair"))
		assert.Equal(t, []string{"img1"}, h.searchIDs(t, "u1", "lamp"))

		version, err := h.ports.Index.IndexedVersion(ctx, "img1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
	}, asyncMode)
}

func TestIndexWorker_DuplicateDeliveryConverges(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.mustIngest(t, event("img1", "u1", T1, "Chair"))
		_, err := h.worker.Drain(ctx)
		require.NoError(t, err)

		// Redeliver an old job for the same image.
		require.NoError(t, h.ports.Queue.Enqueue(ctx, domain.IndexJob{
			ImageID: "img1", UserID: "u1", Kind: domain.IndexJobIndex, Version: 1,
		}))
		applied, err := h.worker.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, applied)
		assert.Equal(t, []string{"img1"}, h.searchIDs(t, "u1", "chair"))

		labels, err := h.ports.Index.Labels(ctx, "img1")
		require.NoError(t, err)
		assert.Equal(t, []string{"chair"}, labels)
	}, asyncMode)
}

func TestIndexWorker_UnindexesImagesWithoutRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		ghost := &domain.DetectionRecord{
			ImageID: "ghost", UserID: "u1", Timestamp: T1, Version: 3,
			Objects: []domain.DetectedObject{{Label: "Chair", Confidence: 0.9, BoundingPolygon: square(0)}},
		}
		require.NoError(t, h.ports.Index.Index(ctx, ghost))
		require.NoError(t, h.ports.Queue.Enqueue(ctx, domain.IndexJob{
			ImageID: "ghost", UserID: "u1", Kind: domain.IndexJobUnindex,
		}))

		applied, err := h.worker.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, applied)

		version, err := h.ports.Index.IndexedVersion(ctx, "ghost")
		require.NoError(t, err)
		assert.Zero(t, version)
	})
}

func TestIndexWorker_RetriesWithBackoff(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		ports := h.ports
		ports.Index = &faultyIndex{LabelIndex: h.ports.Index, indexErr: errors.New("index offline"), failIndexes: -1}
		h = newHarness(ports, asyncMode)

		clock := time.Now().Add(time.Hour)
		h.worker.now = func() time.Time { return clock }

		h.mustIngest(t, event("img1", "u1", T1, "Chair"))

		applied, err := h.worker.Drain(ctx)
		require.NoError(t, err)
		assert.Zero(t, applied)
		assert.Equal(t, 1, h.metrics.jobsFail)

		job, err := h.ports.Queue.Pending(ctx, "img1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, 1, job.Attempts)
		assert.Contains(t, job.LastError, "index offline")
		assert.WithinDuration(t, clock.Add(h.settings.Index.RetryBase), job.NextAttempt, time.Microsecond)

		// Not due again until the backoff elapses.
		applied, err = h.worker.Drain(ctx)
		require.NoError(t, err)
		assert.Zero(t, applied)
		assert.Equal(t, 1, h.metrics.jobsFail)

		clock = clock.Add(h.settings.Index.RetryMax)
		_, err = h.worker.Drain(ctx)
		require.NoError(t, err)
		job, err = h.ports.Queue.Pending(ctx, "img1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, 2, job.Attempts)
	})
}

func TestIndexWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		faulty := &faultyIndex{LabelIndex: h.ports.Index, indexErr: errors.New("index offline"), failIndexes: -1}
		ports := h.ports
		ports.Index = faulty
		h = newHarness(ports, asyncMode, func(s *domain.Settings) { s.Index.MaxAttempts = 2 })

		clock := time.Now().Add(time.Hour)
		h.worker.now = func() time.Time { return clock }
		h.mustIngest(t, event("img1", "u1", T1, "Chair"))

		for range 2 {
			_, err := h.worker.Drain(ctx)
			require.NoError(t, err)
			clock = clock.Add(h.settings.Index.RetryMax)
		}

		job, err := h.ports.Queue.Pending(ctx, "img1")
		require.NoError(t, err)
		assert.Nil(t, job, "job is dropped and left to repair")

		// Once the index recovers, repair restores the projection.
		faulty.mu.Lock()
		faulty.indexErr = nil
		faulty.mu.Unlock()
		report, err := h.repair.Repair(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 1, report.Reindexed)
		assert.Equal(t, []string{"img1"}, h.searchIDs(t, "u1", "chair"))
	})
}

func TestIndexWorker_DrainStopsOnCancelledContext(t *testing.T) {
	h := newHarness(backends["memory"](t), asyncMode)
	h.mustIngest(t, event("img1", "u1", T1, "Chair"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	applied, err := h.worker.Drain(ctx)
	require.Error(t, err)
	assert.Zero(t, applied)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		limit   time.Duration
		attempt int
		want    time.Duration
	}{
		{"first attempt", time.Second, time.Minute, 1, time.Second},
		{"second attempt", time.Second, time.Minute, 2, 2 * time.Second},
		{"fourth attempt", time.Second, time.Minute, 4, 8 * time.Second},
		{"capped", time.Second, 5 * time.Second, 10, 5 * time.Second},
		{"base above limit", time.Minute, time.Second, 1, time.Second},
		{"no limit", time.Second, 0, 3, 4 * time.Second},
		{"zero base", 0, time.Minute, 3, 0},
		{"attempt zero", time.Second, time.Minute, 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.base, tt.limit, tt.attempt))
		})
	}
}
