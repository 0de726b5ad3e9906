package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driving"
	"github.com/custodia-labs/detectsearch/internal/logger"
)

// Ensure SearchService implements the interface.
var _ driving.SearchService = (*SearchService)(nil)

// SearchService resolves label queries against the index and hydrates hits
// from the store.
type SearchService struct {
	ports    Ports
	settings domain.Settings
}

// NewSearchService creates a new search service.
func NewSearchService(ports Ports, settings domain.Settings) *SearchService {
	return &SearchService{
		ports:    ports,
		settings: settings,
	}
}

// Search returns a page of the user's images containing label, newest first.
// Labels match exactly after normalisation; characters such as * or % are
// literal.
//
// Hits whose record has been deleted are always dropped. In strict mode every
// hit is also checked against the record's owner, labels and timestamp, and
// mismatches are dropped. Every dropped hit is reported as a warning. The next
// cursor follows the last index hit, so filtered pages may be short.
func (s *SearchService) Search(
	ctx context.Context, userID, label string, opts domain.SearchOptions,
) (*domain.SearchPage, error) {
	started := time.Now()
	logger.Section("Search Execution")
	logger.Debug("User: %q, label: %q", userID, label)

	if userID == "" {
		return nil, domain.NewValidationError("userId", "is empty")
	}
	key := domain.NormalizeLabel(label)
	if key == "" {
		return nil, domain.NewValidationError("label", "is empty")
	}
	cursor, err := domain.DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = s.settings.Search.DefaultLimit
	}
	limit := opts.PageSize()
	strict := opts.Strict || s.settings.Search.Strict
	logger.Debug("Limit: %d, strict: %t", limit, strict)

	var hits []domain.LabelHit
	err = bounded(ctx, s.settings.Storage.OpTimeout, func(ctx context.Context) error {
		hits, err = s.ports.Index.Search(ctx, userID, key, cursor, limit)
		return err
	})
	if err != nil {
		s.ports.metrics().ObserveError("search")
		logger.Warn("Search failed: %v", err)
		return nil, fmt.Errorf("search index: %w", err)
	}
	logger.Debug("Index hits: %d", len(hits))

	page := &domain.SearchPage{Results: make([]domain.SearchResult, 0, len(hits))}
	for _, hit := range hits {
		rec, err := s.hydrate(ctx, hit.ImageID)
		if err != nil {
			s.ports.metrics().ObserveError("search")
			return nil, fmt.Errorf("hydrate results: %w", err)
		}
		if reason, ok := checkHit(hit, rec, userID, strict); !ok {
			logger.Debug("Filtered %s: %s", hit.ImageID, reason)
			page.Warnings = append(page.Warnings, domain.ConsistencyWarning{
				ImageID: hit.ImageID,
				Label:   hit.Label,
				Reason:  reason,
			})
			continue
		}
		page.Results = append(page.Results, domain.SearchResult{Hit: hit, Record: rec})
	}

	if len(hits) == limit {
		page.NextCursor = hits[len(hits)-1].Cursor().Encode()
	}

	s.ports.metrics().ObserveSearch(len(page.Results), len(page.Warnings), time.Since(started))
	logger.Info("Final results: %d (%d filtered)", len(page.Results), len(page.Warnings))
	return page, nil
}

// hydrate loads the record behind a hit. A missing record yields nil.
func (s *SearchService) hydrate(ctx context.Context, imageID string) (*domain.DetectionRecord, error) {
	var rec *domain.DetectionRecord
	err := bounded(ctx, s.settings.Storage.OpTimeout, func(ctx context.Context) error {
		var err error
		rec, err = s.ports.Store.Get(ctx, imageID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// checkHit validates a hit against its record. Missing records and foreign
// owners are rejected in every mode; label and timestamp drift only in
// strict mode.
func checkHit(
	hit domain.LabelHit, rec *domain.DetectionRecord, userID string, strict bool,
) (domain.ConsistencyReason, bool) {
	switch {
	case rec == nil:
		return domain.ReasonRecordMissing, false
	case rec.UserID != userID:
		return domain.ReasonOwnerMismatch, false
	case !strict:
		return "", true
	case !rec.HasLabel(hit.Label):
		return domain.ReasonLabelMissing, false
	case rec.Timestamp.UTC().UnixNano() != hit.Timestamp:
		return domain.ReasonStaleTimestamp, false
	default:
		return "", true
	}
}
