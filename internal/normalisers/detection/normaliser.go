package detection

import (
	"cmp"
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

// minPolygonArea is the smallest shoelace area accepted as non-degenerate.
const minPolygonArea = 1e-9

// Result contains the output of normalisation.
type Result struct {
	// Record is the canonical record with deduplicated, ordered objects.
	Record *domain.DetectionRecord

	// Dropped counts raw entries rejected by validation or deduplication.
	Dropped int
}

// Normalise converts raw detections into a canonical DetectionRecord.
//
// It fails only when imageID or userID is empty or ts is zero. Entries with
// an empty name, a score outside [0,1], fewer than three vertices, a vertex
// outside the unit square or a zero-area polygon are dropped. Objects are
// deduplicated on (normalised label, polygon), keeping the highest score, and
// sorted by descending confidence, then label, then first-vertex x.
func Normalise(raw []domain.RawDetection, imageID, userID string, ts time.Time, ref string) (*Result, error) {
	imageID = strings.TrimSpace(imageID)
	userID = strings.TrimSpace(userID)
	if imageID == "" {
		return nil, domain.NewValidationError("imageId", "is empty")
	}
	if userID == "" {
		return nil, domain.NewValidationError("userId", "is empty")
	}
	if err := domain.ValidateTimestamp(ts); err != nil {
		return nil, err
	}

	objects := make([]domain.DetectedObject, 0, len(raw))
	for _, r := range raw {
		obj, ok := toObject(r)
		if !ok {
			continue
		}
		objects = append(objects, obj)
	}
	slices.SortFunc(objects, compareObjects)

	// Sorted by descending confidence, so the first occurrence of a key wins.
	seen := make(map[string]struct{}, len(objects))
	deduped := objects[:0]
	for _, obj := range objects {
		key := dedupeKey(obj)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, obj)
	}

	return &Result{
		Record: &domain.DetectionRecord{
			ImageID:         imageID,
			UserID:          userID,
			Timestamp:       ts.UTC(),
			ImageStorageRef: ref,
			Objects:         deduped,
		},
		Dropped: len(raw) - len(deduped),
	}, nil
}

// NormaliseEvent normalises an ingestion event.
func NormaliseEvent(event domain.IngestEvent) (*Result, error) {
	return Normalise(event.RawDetections, event.ImageID, event.UserID, event.Timestamp, event.ImageStorageRef)
}

// DecodeRawDetections parses a detector response body.
// The body must be a JSON array; entries that do not decode are dropped and
// counted rather than failing the whole response.
func DecodeRawDetections(data []byte) ([]domain.RawDetection, int, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, 0, domain.NewValidationError("rawDetections", "must be a JSON array")
	}

	detections := make([]domain.RawDetection, 0, len(entries))
	dropped := 0
	for _, entry := range entries {
		var d domain.RawDetection
		if err := json.Unmarshal(entry, &d); err != nil {
			dropped++
			continue
		}
		detections = append(detections, d)
	}
	return detections, dropped, nil
}

// DecodeEvent parses an ingestion event envelope. Envelope fields must have
// the right shape; the rawDetections array goes through DecodeRawDetections.
func DecodeEvent(data []byte) (*domain.IngestEvent, int, error) {
	var envelope struct {
		ImageID         string          `json:"imageId"`
		UserID          string          `json:"userId"`
		Timestamp       time.Time       `json:"timestamp"`
		ImageStorageRef string          `json:"imageStorageRef"`
		RawDetections   json.RawMessage `json:"rawDetections"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, 0, domain.NewValidationError("event", err.Error())
	}

	event := &domain.IngestEvent{
		ImageID:         envelope.ImageID,
		UserID:          envelope.UserID,
		Timestamp:       envelope.Timestamp,
		ImageStorageRef: envelope.ImageStorageRef,
	}
	if len(envelope.RawDetections) == 0 || string(envelope.RawDetections) == "null" {
		return event, 0, nil
	}

	detections, dropped, err := DecodeRawDetections(envelope.RawDetections)
	if err != nil {
		return nil, 0, err
	}
	event.RawDetections = detections
	return event, dropped, nil
}

// toObject validates a raw entry.
func toObject(r domain.RawDetection) (domain.DetectedObject, bool) {
	label := strings.TrimSpace(r.Name)
	if label == "" {
		return domain.DetectedObject{}, false
	}
	if math.IsNaN(r.Score) || r.Score < 0 || r.Score > 1 {
		return domain.DetectedObject{}, false
	}
	if len(r.Vertices) < 3 {
		return domain.DetectedObject{}, false
	}
	for _, v := range r.Vertices {
		if !inUnit(v.X) || !inUnit(v.Y) {
			return domain.DetectedObject{}, false
		}
	}
	if math.Abs(polygonArea(r.Vertices)) < minPolygonArea {
		return domain.DetectedObject{}, false
	}
	return domain.DetectedObject{
		Label:           label,
		Confidence:      r.Score,
		BoundingPolygon: slices.Clone(r.Vertices),
	}, true
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// polygonArea returns the signed shoelace area.
func polygonArea(pts []domain.Point) float64 {
	var sum float64
	for i := range pts {
		j := (i + 1) % len(pts)
		sum += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return sum / 2
}

func compareObjects(a, b domain.DetectedObject) int {
	if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Label, b.Label); c != 0 {
		return c
	}
	if c := cmp.Compare(a.BoundingPolygon[0].X, b.BoundingPolygon[0].X); c != 0 {
		return c
	}
	return slices.CompareFunc(a.BoundingPolygon, b.BoundingPolygon, comparePoints)
}

func comparePoints(a, b domain.Point) int {
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	return cmp.Compare(a.Y, b.Y)
}

func dedupeKey(obj domain.DetectedObject) string {
	var b strings.Builder
	b.WriteString(obj.NormalizedLabel())
	for _, p := range obj.BoundingPolygon {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(p.X, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p.Y, 'g', -1, 64))
	}
	return b.String()
}
