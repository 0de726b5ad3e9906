package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/detectsearch/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/detectsearch/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
)

// T1 is the capture time used by fixtures.
var T1 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// square returns a valid normalised polygon offset by d.
func square(d float64) []domain.Point {
	return []domain.Point{{X: 0.1 + d, Y: 0.1}, {X: 0.3 + d, Y: 0.1}, {X: 0.3 + d, Y: 0.4}, {X: 0.1 + d, Y: 0.4}}
}

// event builds an ingest event with one detection per label.
func event(imageID, userID string, ts time.Time, labels ...string) domain.IngestEvent {
	ev := domain.IngestEvent{
		ImageID:         imageID,
		UserID:          userID,
		Timestamp:       ts,
		ImageStorageRef: "gs://uploads/" + imageID + ".jpg",
	}
	for i, label := range labels {
		ev.RawDetections = append(ev.RawDetections, domain.RawDetection{
			Name:     label,
			Score:    0.9 - float64(i)*0.1,
			Vertices: square(float64(i) * 0.05),
		})
	}
	return ev
}

// harness wires every detection service over one set of backends.
type harness struct {
	ports      Ports
	coord      *Coordinator
	settings   domain.Settings
	metrics    *recordingMetrics
	ingest     *IngestService
	detections *DetectionService
	search     *SearchService
	worker     *IndexWorker
	repair     *RepairService
}

type backendFactory func(t *testing.T) Ports

var backends = map[string]backendFactory{
	"memory": func(_ *testing.T) Ports {
		queue := memory.NewIndexQueue()
		return Ports{Store: memory.NewDetectionStore(queue), Index: memory.NewLabelIndex(), Queue: queue}
	},
	"sqlite": func(t *testing.T) Ports {
		store, err := sqlite.NewStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return Ports{Store: store.DetectionStore(), Index: store.LabelIndex(), Queue: store.IndexQueue()}
	},
}

// newHarness builds services over ports. Options adjust settings first.
func newHarness(ports Ports, opts ...func(*domain.Settings)) *harness {
	settings := domain.DefaultSettings()
	settings.Index.RetryBase = time.Millisecond
	settings.Index.RetryMax = 10 * time.Millisecond
	settings.Repair.RatePerSecond = 0
	for _, opt := range opts {
		opt(&settings)
	}

	metrics := &recordingMetrics{}
	ports.Metrics = metrics
	coord := NewCoordinator()
	return &harness{
		ports:      ports,
		coord:      coord,
		settings:   settings,
		metrics:    metrics,
		ingest:     NewIngestService(ports, coord, settings),
		detections: NewDetectionService(ports, coord, settings),
		search:     NewSearchService(ports, settings),
		worker:     NewIndexWorker(ports, coord, settings),
		repair:     NewRepairService(ports, coord, settings),
	}
}

// forEachBackend runs fn against a fresh harness for every storage backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, h *harness), opts ...func(*domain.Settings)) {
	t.Helper()
	for name, factory := range backends {
		t.Run(name, func(t *testing.T) {
			fn(t, newHarness(factory(t), opts...))
		})
	}
}

func asyncMode(s *domain.Settings) { s.Index.Mode = domain.IndexModeAsync }

// searchIDs returns the image IDs of every page of a search.
func (h *harness) searchIDs(t *testing.T, userID, label string) []string {
	t.Helper()
	var ids []string
	cursor := ""
	for {
		page, err := h.search.Search(context.Background(), userID, label, domain.SearchOptions{Cursor: cursor, Limit: 2})
		require.NoError(t, err)
		for _, r := range page.Results {
			ids = append(ids, r.Hit.ImageID)
		}
		if page.NextCursor == "" {
			return ids
		}
		cursor = page.NextCursor
	}
}

func (h *harness) mustIngest(t *testing.T, ev domain.IngestEvent) *domain.DetectionRecord {
	t.Helper()
	res, err := h.ingest.Ingest(context.Background(), ev)
	require.NoError(t, err)
	return res.Record
}

// recordingMetrics counts observations.
type recordingMetrics struct {
	mu        sync.Mutex
	ingests   int
	dropped   int
	jobsOK    int
	jobsFail  int
	searches  int
	warnings  int
	reindexed int
	orphans   int
	errors    map[string]int
}

func (m *recordingMetrics) ObserveIngest(_, dropped int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingests++
	m.dropped += dropped
}

func (m *recordingMetrics) ObserveIndexJob(_ string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.jobsOK++
	} else {
		m.jobsFail++
	}
}

func (m *recordingMetrics) ObserveSearch(_, warnings int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++
	m.warnings += warnings
}

func (m *recordingMetrics) ObserveRepair(reindexed, orphans int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reindexed += reindexed
	m.orphans += orphans
}

func (m *recordingMetrics) ObserveError(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = make(map[string]int)
	}
	m.errors[op]++
}

// faultyIndex fails selected LabelIndex calls.
type faultyIndex struct {
	driven.LabelIndex
	mu          sync.Mutex
	indexErr    error
	unindexErr  error
	indexCalls  int
	failIndexes int // fail this many Index calls, then succeed; -1 fails forever
}

func (f *faultyIndex) Index(ctx context.Context, rec *domain.DetectionRecord) error {
	f.mu.Lock()
	f.indexCalls++
	fail := f.indexErr != nil && f.failIndexes != 0
	if fail && f.failIndexes > 0 {
		f.failIndexes--
	}
	f.mu.Unlock()
	if fail {
		return f.indexErr
	}
	return f.LabelIndex.Index(ctx, rec)
}

func (f *faultyIndex) Unindex(ctx context.Context, imageID, userID string) error {
	if f.unindexErr != nil {
		return f.unindexErr
	}
	return f.LabelIndex.Unindex(ctx, imageID, userID)
}

// faultyStore fails selected DetectionStore calls.
type faultyStore struct {
	driven.DetectionStore
	deleteErr error
	getDelay  time.Duration
}

func (f *faultyStore) Delete(ctx context.Context, imageID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.DetectionStore.Delete(ctx, imageID)
}

func (f *faultyStore) Get(ctx context.Context, imageID string) (*domain.DetectionRecord, error) {
	if f.getDelay > 0 {
		select {
		case <-time.After(f.getDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.DetectionStore.Get(ctx, imageID)
}
