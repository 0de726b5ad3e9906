package domain

// Page size bounds applied when a caller does not choose one.
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// SearchOptions configures a label search or listing.
type SearchOptions struct {
	// Cursor is the opaque token from a previous page. Empty starts at the newest record.
	Cursor string

	// Limit is the maximum number of results. Zero uses DefaultPageSize.
	Limit int

	// Strict validates every hit against the store before returning it.
	// Without it, bounded index staleness is tolerated.
	Strict bool
}

// PageSize clamps the requested limit into [1, MaxPageSize].
func (o SearchOptions) PageSize() int {
	switch {
	case o.Limit <= 0:
		return DefaultPageSize
	case o.Limit > MaxPageSize:
		return MaxPageSize
	default:
		return o.Limit
	}
}

// SearchResult represents a single search hit.
type SearchResult struct {
	// Hit is the index entry that matched.
	Hit LabelHit `json:"hit"`

	// Record is the store-backed record. Nil when the store no longer has it.
	Record *DetectionRecord `json:"record"`
}

// SearchPage is one page of label search results.
type SearchPage struct {
	Results []SearchResult `json:"results"`

	// NextCursor is empty when no further pages exist.
	NextCursor string `json:"nextCursor"`

	// Warnings annotate hits that were filtered because the backing
	// record no longer matches the index entry.
	Warnings []ConsistencyWarning `json:"warnings,omitempty"`
}

// RecordPage is one page of a user's detection history.
type RecordPage struct {
	Records    []DetectionRecord `json:"records"`
	NextCursor string            `json:"nextCursor"`
}

// ConsistencyWarning is a non-fatal note that an index entry disagreed with the store.
type ConsistencyWarning struct {
	ImageID string            `json:"imageId"`
	Label   string            `json:"label"`
	Reason  ConsistencyReason `json:"reason"`
}

// ConsistencyReason explains why an index entry was filtered.
type ConsistencyReason string

// Reasons an index hit can disagree with the store.
const (
	// ReasonRecordMissing means the index points at a deleted record.
	ReasonRecordMissing ConsistencyReason = "record_missing"

	// ReasonLabelMissing means the record no longer contains the label.
	ReasonLabelMissing ConsistencyReason = "label_missing"

	// ReasonOwnerMismatch means the record belongs to another user.
	ReasonOwnerMismatch ConsistencyReason = "owner_mismatch"

	// ReasonStaleTimestamp means the record was re-detected with a new timestamp.
	ReasonStaleTimestamp ConsistencyReason = "stale_timestamp"
)

// RepairReport summarises a reconciliation pass.
type RepairReport struct {
	// RecordsScanned counts store records inspected.
	RecordsScanned int

	// Reindexed counts records whose index entries were missing or stale.
	Reindexed int

	// OrphansRemoved counts index images with no backing record.
	OrphansRemoved int
}

// Changed reports whether the pass fixed anything.
func (r RepairReport) Changed() bool {
	return r.Reindexed > 0 || r.OrphansRemoved > 0
}
