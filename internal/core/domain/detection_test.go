package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() *DetectionRecord {
	return &DetectionRecord{
		ImageID:   "img1",
		UserID:    "u1",
		Timestamp: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		Objects: []DetectedObject{
			{Label: "Chair", Confidence: 0.85, BoundingPolygon: []Point{{0.1, 0.2}, {0.4, 0.2}, {0.4, 0.5}}},
			{Label: " lamp", Confidence: 0.60, BoundingPolygon: []Point{{0.5, 0.5}, {0.7, 0.5}, {0.7, 0.7}}},
			{Label: "chair", Confidence: 0.55, BoundingPolygon: []Point{{0.6, 0.1}, {0.9, 0.1}, {0.9, 0.4}}},
		},
	}
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "chair", NormalizeLabel("  Chair\t"))
	assert.Equal(t, "dining table", NormalizeLabel("Dining Table"))
	assert.Equal(t, "", NormalizeLabel("   "))
}

func TestDetectionRecord_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DetectionRecord)
		field  string
	}{
		{"empty image id", func(r *DetectionRecord) { r.ImageID = "" }, "imageId"},
		{"empty user id", func(r *DetectionRecord) { r.UserID = " " }, "userId"},
		{"zero timestamp", func(r *DetectionRecord) { r.Timestamp = time.Time{} }, "timestamp"},
		{"timestamp past nanosecond range", func(r *DetectionRecord) { r.Timestamp = MaxTimestamp.Add(time.Nanosecond) }, "timestamp"},
		{"timestamp before nanosecond range", func(r *DetectionRecord) { r.Timestamp = MinTimestamp.Add(-time.Nanosecond) }, "timestamp"},
	}

	require.NoError(t, testRecord().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord()
			tt.mutate(rec)

			err := rec.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	var nilRecord *DetectionRecord
	assert.Error(t, nilRecord.Validate())
}

func TestValidateTimestamp_Bounds(t *testing.T) {
	assert.NoError(t, ValidateTimestamp(MinTimestamp))
	assert.NoError(t, ValidateTimestamp(MaxTimestamp))
	assert.Equal(t, MaxTimestamp, time.Unix(0, MaxTimestamp.UnixNano()).UTC())
	assert.Equal(t, MinTimestamp, time.Unix(0, MinTimestamp.UnixNano()).UTC())
}

func TestDetectionRecord_Labels(t *testing.T) {
	assert.Equal(t, []string{"chair", "lamp"}, testRecord().Labels())
	assert.Empty(t, (&DetectionRecord{}).Labels())
}

func TestDetectionRecord_HasLabel(t *testing.T) {
	rec := testRecord()
	assert.True(t, rec.HasLabel("CHAIR"))
	assert.True(t, rec.HasLabel("lamp "))
	assert.False(t, rec.HasLabel("table"))
}

func TestDetectionRecord_BestConfidence(t *testing.T) {
	rec := testRecord()
	assert.Equal(t, 0.85, rec.BestConfidence("chair"), "highest of the two chairs")
	assert.Equal(t, 0.60, rec.BestConfidence(" LAMP "))
	assert.Zero(t, rec.BestConfidence("table"))
}

func TestDetectionRecord_SameContent(t *testing.T) {
	a := testRecord()
	b := testRecord()
	b.Version = 7
	assert.True(t, a.SameContent(b), "version is ignored")

	b.Objects[0].Confidence = 0.9
	assert.False(t, a.SameContent(b))

	c := testRecord()
	c.Timestamp = c.Timestamp.In(time.FixedZone("X", 3600))
	assert.True(t, a.SameContent(c), "timestamps compare by instant")
}

func TestDetectionRecord_Clone(t *testing.T) {
	orig := testRecord()
	clone := orig.Clone()

	clone.Objects[0].BoundingPolygon[0].X = 0.99
	clone.Objects = append(clone.Objects, DetectedObject{Label: "extra"})

	assert.Equal(t, 0.1, orig.Objects[0].BoundingPolygon[0].X)
	assert.Len(t, orig.Objects, 3)
	assert.Nil(t, (*DetectionRecord)(nil).Clone())
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("imageId", "is empty")
	assert.Equal(t, "invalid imageId: is empty", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTransientStorage))
	assert.True(t, IsRetryable(ErrConflict))
	assert.False(t, IsRetryable(ErrInvalidInput))
	assert.False(t, IsRetryable(ErrNotFound))
}

func TestRecordState_String(t *testing.T) {
	assert.Equal(t, "indexed", StateIndexed.String())
}
