package driving

import (
	"context"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

// RepairService reconciles the label index from the detection store.
type RepairService interface {
	// Repair reindexes records whose index entries are missing or stale and
	// removes index entries with no backing record. An empty userID repairs
	// every user.
	Repair(ctx context.Context, userID string) (domain.RepairReport, error)
}

// IndexWorker applies queued label index updates.
type IndexWorker interface {
	// Drain applies due jobs and returns how many were applied.
	Drain(ctx context.Context) (int, error)
}
