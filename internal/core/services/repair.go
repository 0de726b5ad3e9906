package services

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driving"
	"github.com/custodia-labs/detectsearch/internal/logger"
)

// Ensure RepairService implements the interface.
var _ driving.RepairService = (*RepairService)(nil)

// RepairService reconciles the label index from the detection store.
type RepairService struct {
	ports    Ports
	coord    *Coordinator
	settings domain.RepairSettings
	proj     projector
}

// NewRepairService creates a new repair service.
func NewRepairService(ports Ports, coord *Coordinator, settings domain.Settings) *RepairService {
	return &RepairService{
		ports:    ports,
		coord:    coord,
		settings: settings.Repair,
		proj:     projector{ports: ports, timeout: settings.Storage.OpTimeout},
	}
}

// Repair makes two passes. The first walks the store and reindexes every
// record whose indexed version, owner or labels disagree with the record.
// The second walks the index and removes images with no backing record.
// Batches are paced so a repair does not starve ingestion.
func (s *RepairService) Repair(ctx context.Context, userID string) (domain.RepairReport, error) {
	logger.Section("Index Repair")
	var report domain.RepairReport

	batch := s.settings.BatchSize
	if batch <= 0 {
		batch = domain.DefaultSettings().Repair.BatchSize
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.settings.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.settings.RatePerSecond), 1)
	}

	if err := s.repairRecords(ctx, userID, batch, limiter, &report); err != nil {
		return report, err
	}
	if err := s.removeOrphans(ctx, userID, batch, limiter, &report); err != nil {
		return report, err
	}

	s.ports.metrics().ObserveRepair(report.Reindexed, report.OrphansRemoved)
	logger.Info("Repair scanned %d records: %d reindexed, %d orphans removed",
		report.RecordsScanned, report.Reindexed, report.OrphansRemoved)
	return report, nil
}

func (s *RepairService) repairRecords(
	ctx context.Context, userID string, batch int, limiter *rate.Limiter, report *domain.RepairReport,
) error {
	after := ""
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		var records []domain.DetectionRecord
		err := bounded(ctx, s.proj.timeout, func(ctx context.Context) error {
			var err error
			records, err = s.ports.Store.Scan(ctx, after, batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("scan store: %w", err)
		}

		for i := range records {
			rec := &records[i]
			if userID != "" && rec.UserID != userID {
				continue
			}
			report.RecordsScanned++

			stale, err := s.stale(ctx, rec)
			if err != nil {
				return err
			}
			if !stale {
				continue
			}
			if err := s.reindex(ctx, rec.ImageID, rec.UserID); err != nil {
				return err
			}
			report.Reindexed++
		}

		if len(records) < batch {
			return nil
		}
		after = records[len(records)-1].ImageID
	}
}

// stale reports whether the index projection of rec differs from rec.
func (s *RepairService) stale(ctx context.Context, rec *domain.DetectionRecord) (bool, error) {
	var version int64
	var labels []string
	err := bounded(ctx, s.proj.timeout, func(ctx context.Context) error {
		var err error
		if version, err = s.ports.Index.IndexedVersion(ctx, rec.ImageID); err != nil {
			return err
		}
		labels, err = s.ports.Index.Labels(ctx, rec.ImageID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("read index for %s: %w", rec.ImageID, err)
	}
	return version != rec.Version || !slices.Equal(labels, rec.Labels()), nil
}

// reindex rebuilds an image's index entries from the store, clearing them
// first so a stale higher indexed version cannot block the rewrite.
func (s *RepairService) reindex(ctx context.Context, imageID, userID string) error {
	unlock, err := s.coord.Lock(ctx, imageID)
	if err != nil {
		return err
	}
	defer unlock()

	logger.Debug("Reindexing %s", imageID)
	err = bounded(ctx, s.proj.timeout, func(ctx context.Context) error {
		return s.ports.Index.Unindex(ctx, imageID, userID)
	})
	if err != nil {
		return fmt.Errorf("unindex %s: %w", imageID, err)
	}
	version, err := s.proj.project(ctx, imageID, userID)
	if err != nil {
		return err
	}
	if err := s.proj.ack(ctx, imageID, version); err != nil {
		logger.Warn("Ack for %s failed: %v", imageID, err)
	}
	return nil
}

func (s *RepairService) removeOrphans(
	ctx context.Context, userID string, batch int, limiter *rate.Limiter, report *domain.RepairReport,
) error {
	after := ""
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		var images []driven.IndexedImage
		err := bounded(ctx, s.proj.timeout, func(ctx context.Context) error {
			var err error
			images, err = s.ports.Index.ScanImages(ctx, after, batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("scan index: %w", err)
		}

		for _, img := range images {
			if userID != "" && img.UserID != userID {
				continue
			}
			fixed, err := s.checkIndexed(ctx, img)
			if err != nil {
				return err
			}
			switch fixed {
			case fixOrphan:
				report.OrphansRemoved++
			case fixOwner:
				report.Reindexed++
			}
		}

		if len(images) < batch {
			return nil
		}
		after = images[len(images)-1].ImageID
	}
}

type fixKind int

const (
	fixNone fixKind = iota
	fixOrphan
	fixOwner
)

// checkIndexed removes an indexed image whose record is gone and reindexes
// one filed under the wrong owner.
func (s *RepairService) checkIndexed(ctx context.Context, img driven.IndexedImage) (fixKind, error) {
	unlock, err := s.coord.Lock(ctx, img.ImageID)
	if err != nil {
		return fixNone, err
	}
	defer unlock()

	var rec *domain.DetectionRecord
	err = bounded(ctx, s.proj.timeout, func(ctx context.Context) error {
		var err error
		rec, err = s.ports.Store.Get(ctx, img.ImageID)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Debug("Removing orphan %s", img.ImageID)
		err = bounded(ctx, s.proj.timeout, func(ctx context.Context) error {
			return s.ports.Index.Unindex(ctx, img.ImageID, img.UserID)
		})
		if err != nil {
			return fixNone, fmt.Errorf("unindex orphan %s: %w", img.ImageID, err)
		}
		return fixOrphan, nil
	case err != nil:
		return fixNone, fmt.Errorf("read record %s: %w", img.ImageID, err)
	case rec.UserID == img.UserID:
		return fixNone, nil
	}

	logger.Debug("Reindexing %s under owner %s", img.ImageID, rec.UserID)
	err = bounded(ctx, s.proj.timeout, func(ctx context.Context) error {
		if err := s.ports.Index.Unindex(ctx, img.ImageID, img.UserID); err != nil {
			return err
		}
		return s.ports.Index.Index(ctx, rec)
	})
	if err != nil {
		return fixNone, fmt.Errorf("reindex %s: %w", img.ImageID, err)
	}
	return fixOwner, nil
}
