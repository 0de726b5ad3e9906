package domain

import "time"

// IndexJobKind identifies what a queued index update does.
type IndexJobKind string

// Index job kinds.
const (
	// IndexJobIndex re-projects the current store record into the label index.
	IndexJobIndex IndexJobKind = "index"

	// IndexJobUnindex removes every index entry for an image.
	IndexJobUnindex IndexJobKind = "unindex"
)

// IndexJob is a queued label index update.
// Jobs are written in the same transaction as the store change that caused
// them and are delivered at least once; applying a job twice is a no-op.
type IndexJob struct {
	ID      string
	ImageID string
	UserID  string
	Kind    IndexJobKind

	// Version is the record version the job was queued for.
	Version int64

	Attempts    int
	NextAttempt time.Time
	LastError   string
	CreatedAt   time.Time
}
