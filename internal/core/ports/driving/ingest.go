package driving

import (
	"context"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

// IngestService accepts detector output for an image and stores it.
type IngestService interface {
	// Ingest normalises the event, upserts the record and updates the label index.
	// Malformed individual detections are dropped; the call fails only when
	// the event's identifying fields are missing or storage fails.
	Ingest(ctx context.Context, event domain.IngestEvent) (*IngestResult, error)
}

// IngestResult describes what an ingestion stored.
type IngestResult struct {
	// Record is the stored record, including its version.
	Record *domain.DetectionRecord

	// Dropped counts raw detections rejected by validation or deduplication.
	Dropped int

	// State is StateIndexed when the index update completed before returning,
	// StateStored when it was left to the index worker.
	State domain.RecordState
}
