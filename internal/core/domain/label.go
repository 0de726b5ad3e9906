package domain

import "strings"

// NormalizeLabel returns the search key for a detector label.
// Detector vocabulary casing is inconsistent, so keys are lowercased and trimmed.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// LabelHit is a label index back-reference to an image.
// The index never holds a copy of the full record.
type LabelHit struct {
	ImageID   string `json:"imageId"`
	UserID    string `json:"userId"`
	Label     string `json:"label"`
	Timestamp int64  `json:"timestamp"` // unix nanoseconds, UTC
}

// Cursor returns the keyset position just after this hit.
func (h LabelHit) Cursor() Cursor {
	return Cursor{Timestamp: h.Timestamp, ImageID: h.ImageID}
}
