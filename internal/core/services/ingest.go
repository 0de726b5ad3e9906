package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driving"
	"github.com/custodia-labs/detectsearch/internal/logger"
	"github.com/custodia-labs/detectsearch/internal/normalisers/detection"
)

// Ensure IngestService implements the interface.
var _ driving.IngestService = (*IngestService)(nil)

// IngestService normalises detector output, stores it and keeps the label
// index in step.
type IngestService struct {
	ports    Ports
	coord    *Coordinator
	settings domain.Settings
	proj     projector
}

// NewIngestService creates a new ingest service.
func NewIngestService(ports Ports, coord *Coordinator, settings domain.Settings) *IngestService {
	return &IngestService{
		ports:    ports,
		coord:    coord,
		settings: settings,
		proj:     projector{ports: ports, timeout: settings.Storage.OpTimeout},
	}
}

// Ingest normalises the event, upserts the record and updates the label index.
//
// The store write and its queued index job commit together. In sync mode the
// index update is applied before returning; if that fails the record stays
// Stored and the queued job is left for the index worker.
func (s *IngestService) Ingest(ctx context.Context, event domain.IngestEvent) (*driving.IngestResult, error) {
	started := time.Now()
	logger.Section("Ingest")

	norm, err := detection.NormaliseEvent(event)
	if err != nil {
		s.ports.metrics().ObserveError("ingest")
		return nil, err
	}
	rec := norm.Record
	logger.Debug("Image %s: %d objects, %d dropped", rec.ImageID, len(rec.Objects), norm.Dropped)

	done := s.coord.beginIngest(rec.ImageID)
	defer done()

	unlock, err := s.coord.Lock(ctx, rec.ImageID)
	if err != nil {
		s.ports.metrics().ObserveError("ingest")
		return nil, fmt.Errorf("lock image %s: %w", rec.ImageID, err)
	}
	defer unlock()

	err = bounded(ctx, s.settings.Storage.OpTimeout, func(ctx context.Context) error {
		version, err := s.ports.Store.Put(ctx, rec, domain.PutOptions{})
		rec.Version = version
		return err
	})
	if err != nil {
		s.ports.metrics().ObserveError("ingest")
		return nil, fmt.Errorf("store record %s: %w", rec.ImageID, err)
	}
	logger.Debug("Stored %s at version %d", rec.ImageID, rec.Version)

	result := &driving.IngestResult{
		Record:  rec,
		Dropped: norm.Dropped,
		State:   domain.StateStored,
	}

	if s.settings.Index.Mode != domain.IndexModeAsync {
		if err := s.proj.index(ctx, rec); err != nil {
			logger.Warn("Index update for %s deferred to worker: %v", rec.ImageID, err)
			s.ports.metrics().ObserveIndexJob(string(domain.IndexJobIndex), false)
		} else {
			result.State = domain.StateIndexed
			s.ports.metrics().ObserveIndexJob(string(domain.IndexJobIndex), true)
			if err := s.proj.ack(ctx, rec.ImageID, rec.Version); err != nil {
				logger.Warn("Ack for %s failed, job will be re-applied: %v", rec.ImageID, err)
			}
		}
	}

	s.ports.metrics().ObserveIngest(len(rec.Objects), norm.Dropped, time.Since(started))
	logger.Info("Ingested %s (%s)", rec.ImageID, result.State)
	return result, nil
}
