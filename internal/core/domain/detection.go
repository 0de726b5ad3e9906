package domain

import (
	"math"
	"slices"
	"strings"
	"time"
)

// Point is a polygon vertex in normalised image coordinates.
// Both axes are in [0,1] with the origin at the top-left corner.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DetectedObject is a single object found in an image.
// It is treated as an immutable value once created.
type DetectedObject struct {
	// Label is the detector's object name, trimmed but with its casing kept.
	Label string `json:"label"`

	// Confidence is the detector score in [0,1].
	Confidence float64 `json:"confidence"`

	// BoundingPolygon holds at least three normalised vertices.
	BoundingPolygon []Point `json:"boundingPolygon"`
}

// NormalizedLabel returns the search key for the object's label.
func (o DetectedObject) NormalizedLabel() string {
	return NormalizeLabel(o.Label)
}

// Equal reports whether two objects have the same label, score and polygon.
func (o DetectedObject) Equal(other DetectedObject) bool {
	return o.Label == other.Label &&
		o.Confidence == other.Confidence &&
		slices.Equal(o.BoundingPolygon, other.BoundingPolygon)
}

// DetectionRecord holds every detection for one image.
// It is the canonical storage unit owned by the DetectionStore.
type DetectionRecord struct {
	// ImageID is globally unique and assigned before first persistence.
	ImageID string `json:"imageId"`

	// UserID is the owner of the image.
	UserID string `json:"userId"`

	// Timestamp is when the image was captured or uploaded, in UTC.
	Timestamp time.Time `json:"timestamp"`

	// ImageStorageRef is an opaque locator for the original image bytes.
	ImageStorageRef string `json:"imageStorageRef"`

	// Objects are ordered by descending confidence. May be empty.
	Objects []DetectedObject `json:"objects"`

	// Version is assigned by the store and bumped whenever content changes.
	// Zero means the record has not been persisted.
	Version int64 `json:"version,omitempty"`
}

// Validate checks the fields required before a record can be persisted.
func (r *DetectionRecord) Validate() error {
	if r == nil {
		return NewValidationError("record", "is nil")
	}
	if strings.TrimSpace(r.ImageID) == "" {
		return NewValidationError("imageId", "is empty")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return NewValidationError("userId", "is empty")
	}
	return ValidateTimestamp(r.Timestamp)
}

// Timestamps are persisted as Unix nanoseconds, which bounds them to
// roughly 1678 through 2262.
var (
	MinTimestamp = time.Unix(0, math.MinInt64).UTC()
	MaxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// ValidateTimestamp rejects a zero timestamp or one outside
// [MinTimestamp, MaxTimestamp].
func ValidateTimestamp(ts time.Time) error {
	if ts.IsZero() {
		return NewValidationError("timestamp", "is missing")
	}
	if ts.Before(MinTimestamp) || ts.After(MaxTimestamp) {
		return NewValidationError("timestamp", "is outside "+
			MinTimestamp.Format(time.RFC3339)+" to "+MaxTimestamp.Format(time.RFC3339))
	}
	return nil
}

// Labels returns the distinct normalised labels in the record, sorted.
func (r *DetectionRecord) Labels() []string {
	seen := make(map[string]struct{}, len(r.Objects))
	labels := make([]string, 0, len(r.Objects))
	for _, obj := range r.Objects {
		label := obj.NormalizedLabel()
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	slices.Sort(labels)
	return labels
}

// HasLabel reports whether any object matches the label after normalisation.
func (r *DetectionRecord) HasLabel(label string) bool {
	want := NormalizeLabel(label)
	for _, obj := range r.Objects {
		if obj.NormalizedLabel() == want {
			return true
		}
	}
	return false
}

// BestConfidence returns the highest confidence among objects whose
// normalised label matches label, or 0 when none do.
func (r *DetectionRecord) BestConfidence(label string) float64 {
	want := NormalizeLabel(label)
	best := 0.0
	for _, obj := range r.Objects {
		if obj.NormalizedLabel() == want && obj.Confidence > best {
			best = obj.Confidence
		}
	}
	return best
}

// SameContent reports whether two records would be stored identically,
// ignoring the store-assigned Version.
func (r *DetectionRecord) SameContent(other *DetectionRecord) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.ImageID == other.ImageID &&
		r.UserID == other.UserID &&
		r.Timestamp.Equal(other.Timestamp) &&
		r.ImageStorageRef == other.ImageStorageRef &&
		slices.EqualFunc(r.Objects, other.Objects, DetectedObject.Equal)
}

// Clone returns a deep copy of the record.
func (r *DetectionRecord) Clone() *DetectionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Objects = make([]DetectedObject, len(r.Objects))
	for i, obj := range r.Objects {
		c.Objects[i] = DetectedObject{
			Label:           obj.Label,
			Confidence:      obj.Confidence,
			BoundingPolygon: slices.Clone(obj.BoundingPolygon),
		}
	}
	return &c
}

// RawDetection is a single unvalidated entry from a detector response.
type RawDetection struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Vertices []Point `json:"boundingPolyNormalized"`
}

// IngestEvent is the payload an ingestion trigger hands to the core.
type IngestEvent struct {
	ImageID         string         `json:"imageId"`
	UserID          string         `json:"userId"`
	Timestamp       time.Time      `json:"timestamp"`
	ImageStorageRef string         `json:"imageStorageRef"`
	RawDetections   []RawDetection `json:"rawDetections"`
}

// RecordState is the lifecycle position of a DetectionRecord.
type RecordState string

// Record lifecycle states. A record is never Indexed before it is Stored.
const (
	// StatePending means the record was accepted but is not yet visible in the store.
	StatePending RecordState = "pending"

	// StateStored means the record is visible in the store with an index update in flight.
	StateStored RecordState = "stored"

	// StateIndexed means the record is visible in both the store and the index.
	StateIndexed RecordState = "indexed"

	// StateDeleted is terminal.
	StateDeleted RecordState = "deleted"
)

// String returns the string representation.
func (s RecordState) String() string {
	return string(s)
}

// PutOptions controls a store write.
type PutOptions struct {
	// ExpectedVersion enables optimistic concurrency when non-zero.
	// The write fails with ErrConflict unless the stored version matches.
	ExpectedVersion int64
}
