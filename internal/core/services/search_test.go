package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

func TestSearch_ChairLampScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		ev := domain.IngestEvent{
			ImageID:         "img1",
			UserID:          "u1",
			Timestamp:       T1,
			ImageStorageRef: "gs://uploads/img1.jpg",
			RawDetections: []domain.RawDetection{
				{Name: "Chair", Score: 0.85, Vertices: square(0)},
				{Name: "Lamp", Score: 0.60, Vertices: square(0.4)},
			},
		}
		h.mustIngest(t, ev)

		page, err := h.search.Search(ctx, "u1", "chair", domain.SearchOptions{})
		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		assert.Equal(t, "img1", page.Results[0].Hit.ImageID)
		assert.Equal(t, "gs://uploads/img1.jpg", page.Results[0].Record.ImageStorageRef)
		assert.Len(t, page.Results[0].Record.Objects, 2)
		assert.Empty(t, page.Warnings)
		assert.Empty(t, page.NextCursor)

		assert.Empty(t, h.searchIDs(t, "u1", "table"))

		require.NoError(t, h.detections.Delete(ctx, "img1"))
		assert.Empty(t, h.searchIDs(t, "u1", "chair"))
	})
}

func TestSearch_ExactCaseInsensitiveMatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.mustIngest(t, event("img1", "u1", T1, "Office Chair"))
		h.mustIngest(t, event("img2", "u1", T1.Add(time.Minute), "chair"))

		assert.Equal(t, []string{"img2"}, h.searchIDs(t, "u1", "CHAIR"))
		assert.Equal(t, []string{"img2"}, h.searchIDs(t, "u1", "  Chair "))
		assert.Equal(t, []string{"img1"}, h.searchIDs(t, "u1", "office chair"))
		assert.Empty(t, h.searchIDs(t, "u1", "chai"), "no substring matching")
	})
}

func TestSearch_IsolatesUsers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.mustIngest(t, event("img1", "u1", T1, "Chair"))
		h.mustIngest(t, event("img2", "u2", T1, "Chair"))

		assert.Equal(t, []string{"img1"}, h.searchIDs(t, "u1", "chair"))
		assert.Equal(t, []string{"img2"}, h.searchIDs(t, "u2", "chair"))
		assert.Empty(t, h.searchIDs(t, "u3", "chair"))
	})
}

func TestSearch_OrdersNewestFirstWithImageTieBreak(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.mustIngest(t, event("a", "u1", T1, "Chair"))
		h.mustIngest(t, event("c", "u1", T1, "Chair"))
		h.mustIngest(t, event("b", "u1", T1, "Chair"))
		h.mustIngest(t, event("old", "u1", T1.Add(-time.Hour), "Chair"))
		h.mustIngest(t, event("new", "u1", T1.Add(time.Hour), "Chair"))

		assert.Equal(t, []string{"new", "c", "b", "a", "old"}, h.searchIDs(t, "u1", "chair"))
	})
}

func TestSearch_PaginationIsStableUnderInserts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		for i := range 6 {
			h.mustIngest(t, event(fmt.Sprintf("img%d", i), "u1", T1.Add(time.Duration(i)*time.Second), "Chair"))
		}

		first, err := h.search.Search(ctx, "u1", "chair", domain.SearchOptions{Limit: 3})
		require.NoError(t, err)
		require.NotEmpty(t, first.NextCursor)

		// A newer image arriving between pages does not shift the next page.
		h.mustIngest(t, event("late", "u1", T1.Add(time.Hour), "Chair"))

		second, err := h.search.Search(ctx, "u1", "chair", domain.SearchOptions{Limit: 3, Cursor: first.NextCursor})
		require.NoError(t, err)

		var got []string
		for _, r := range append(first.Results, second.Results...) {
			got = append(got, r.Hit.ImageID)
		}
		assert.Equal(t, []string{"img5", "img4", "img3", "img2", "img1", "img0"}, got)
	})
}

func TestSearch_DefaultLimitFromSettings(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		for i := range 3 {
			h.mustIngest(t, event(fmt.Sprintf("img%d", i), "u1", T1.Add(time.Duration(i)*time.Second), "Chair"))
		}
		page, err := h.search.Search(context.Background(), "u1", "chair", domain.SearchOptions{})
		require.NoError(t, err)
		assert.Len(t, page.Results, 2)
		assert.NotEmpty(t, page.NextCursor)
	}, func(s *domain.Settings) { s.Search.DefaultLimit = 2 })
}

func TestSearch_RejectsInvalidQueries(t *testing.T) {
	h := newHarness(backends["memory"](t))
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		label  string
		cursor string
		want   error
	}{
		{"empty user", "", "chair", "", domain.ErrInvalidInput},
		{"empty label", "u1", "   ", "", domain.ErrInvalidInput},
		{"malformed cursor", "u1", "chair", "not base64!", domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.search.Search(ctx, tt.userID, tt.label, domain.SearchOptions{Cursor: tt.cursor})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSearch_MatchesWildcardCharactersLiterally(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		h.mustIngest(t, event("img1", "u1", T1, "100% Cotton", "Chair"))
		h.mustIngest(t, event("img2", "u1", T1.Add(time.Minute), "ch*ir"))

		assert.Equal(t, []string{"img1"}, h.searchIDs(t, "u1", "100% cotton"))
		assert.Equal(t, []string{"img2"}, h.searchIDs(t, "u1", "CH*IR"))
		assert.Empty(t, h.searchIDs(t, "u1", "ch*"))
		assert.Empty(t, h.searchIDs(t, "u1", "%cotton%"))
		assert.Equal(t, []string{"img1"}, h.searchIDs(t, "u1", "chair"))
	})
}

func TestSearch_FiltersHitsWithoutRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.mustIngest(t, event("img1", "u1", T1, "Chair"))

		// An index entry the store never saw.
		ghost := &domain.DetectionRecord{
			ImageID: "ghost", UserID: "u1", Timestamp: T1.Add(time.Minute), Version: 1,
			Objects: []domain.DetectedObject{{Label: "Chair", Confidence: 0.9, BoundingPolygon: square(0)}},
		}
		require.NoError(t, h.ports.Index.Index(ctx, ghost))

		page, err := h.search.Search(ctx, "u1", "chair", domain.SearchOptions{})
		require.NoError(t, err)
		require.Len(t, page.Results, 1)
		assert.Equal(t, "img1", page.Results[0].Hit.ImageID)
		require.Len(t, page.Warnings, 1)
		assert.Equal(t, domain.ConsistencyWarning{
			ImageID: "ghost", Label: "chair", Reason: domain.ReasonRecordMissing,
		}, page.Warnings[0])
		assert.Equal(t, 1, h.metrics.warnings)
	})
}

func TestSearch_FiltersForeignOwnerInEveryMode(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.mustIngest(t, event("img1", "u2", T1, "Chair"))

		// Stale projection filing img1 under u1.
		stale := &domain.DetectionRecord{
			ImageID: "img1", UserID: "u1", Timestamp: T1, Version: 9,
			Objects: []domain.DetectedObject{{Label: "Chair", Confidence: 0.9, BoundingPolygon: square(0)}},
		}
		require.NoError(t, h.ports.Index.Index(ctx, stale))

		page, err := h.search.Search(ctx, "u1", "chair", domain.SearchOptions{})
		require.NoError(t, err)
		assert.Empty(t, page.Results)
		require.Len(t, page.Warnings, 1)
		assert.Equal(t, domain.ReasonOwnerMismatch, page.Warnings[0].Reason)
	})
}

func TestSearch_StrictModeChecksLabelsAndTimestamps(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(rec *domain.DetectionRecord)
		label  string
		reason domain.ConsistencyReason
	}{
		{
			name: "label missing",
			mutate: func(rec *domain.DetectionRecord) {
				rec.Objects = []domain.DetectedObject{{Label: "Sofa", Confidence: 0.9, BoundingPolygon: square(0)}}
			},
			label:  "sofa",
			reason: domain.ReasonLabelMissing,
		},
		{
			name:   "stale timestamp",
			mutate: func(rec *domain.DetectionRecord) { rec.Timestamp = T1.Add(-time.Hour) },
			label:  "chair",
			reason: domain.ReasonStaleTimestamp,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forEachBackend(t, func(t *testing.T, h *harness) {
				ctx := context.Background()
				rec := h.mustIngest(t, event("img1", "u1", T1, "Chair"))

				drifted := rec.Clone()
				drifted.Version = rec.Version + 1
				tt.mutate(drifted)
				require.NoError(t, h.ports.Index.Index(ctx, drifted))

				lax, err := h.search.Search(ctx, "u1", tt.label, domain.SearchOptions{})
				require.NoError(t, err)
				assert.Len(t, lax.Results, 1, "non-strict search trusts the index")

				strict, err := h.search.Search(ctx, "u1", tt.label, domain.SearchOptions{Strict: true})
				require.NoError(t, err)
				assert.Empty(t, strict.Results)
				require.Len(t, strict.Warnings, 1)
				assert.Equal(t, tt.reason, strict.Warnings[0].Reason)
			})
		})
	}
}

func TestSearch_StrictFromSettings(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		rec := h.mustIngest(t, event("img1", "u1", T1, "Chair"))
		drifted := rec.Clone()
		drifted.Version++
		drifted.Timestamp = T1.Add(time.Minute)
		require.NoError(t, h.ports.Index.Index(ctx, drifted))

		page, err := h.search.Search(ctx, "u1", "chair", domain.SearchOptions{})
		require.NoError(t, err)
		assert.Empty(t, page.Results)
		assert.Len(t, page.Warnings, 1)
	}, func(s *domain.Settings) { s.Search.Strict = true })
}

func TestSearch_CursorFollowsFilteredHits(t *testing.T) {
	forEachBackend(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.mustIngest(t, event("img1", "u1", T1, "Chair"))
		ghost := &domain.DetectionRecord{
			ImageID: "img2", UserID: "u1", Timestamp: T1.Add(time.Minute), Version: 1,
			Objects: []domain.DetectedObject{{Label: "Chair", Confidence: 0.9, BoundingPolygon: square(0)}},
		}
		require.NoError(t, h.ports.Index.Index(ctx, ghost))

		page, err := h.search.Search(ctx, "u1", "chair", domain.SearchOptions{Limit: 1})
		require.NoError(t, err)
		assert.Empty(t, page.Results)
		require.NotEmpty(t, page.NextCursor, "short page still advances")

		next, err := h.search.Search(ctx, "u1", "chair", domain.SearchOptions{Limit: 1, Cursor: page.NextCursor})
		require.NoError(t, err)
		require.Len(t, next.Results, 1)
		assert.Equal(t, "img1", next.Results[0].Hit.ImageID)
	})
}

func TestCheckHit(t *testing.T) {
	rec := &domain.DetectionRecord{
		ImageID: "img1", UserID: "u1", Timestamp: T1,
		Objects: []domain.DetectedObject{{Label: "Chair"}},
	}
	hit := domain.LabelHit{ImageID: "img1", UserID: "u1", Label: "chair", Timestamp: T1.UnixNano()}

	tests := []struct {
		name   string
		hit    domain.LabelHit
		rec    *domain.DetectionRecord
		user   string
		strict bool
		reason domain.ConsistencyReason
		ok     bool
	}{
		{"consistent", hit, rec, "u1", true, "", true},
		{"missing record", hit, nil, "u1", false, domain.ReasonRecordMissing, false},
		{"foreign owner", hit, rec, "u2", false, domain.ReasonOwnerMismatch, false},
		{"label drift lax", domain.LabelHit{ImageID: "img1", Label: "lamp", Timestamp: T1.UnixNano()}, rec, "u1", false, "", true},
		{"label drift strict", domain.LabelHit{ImageID: "img1", Label: "lamp", Timestamp: T1.UnixNano()}, rec, "u1", true, domain.ReasonLabelMissing, false},
		{"timestamp drift strict", domain.LabelHit{ImageID: "img1", Label: "chair", Timestamp: 1}, rec, "u1", true, domain.ReasonStaleTimestamp, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := checkHit(tt.hit, tt.rec, tt.user, tt.strict)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
