package driven

import (
	"context"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

// Detector is the opaque object detector.
// It returns unvalidated detections for the given image bytes.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]domain.RawDetection, error)
}
