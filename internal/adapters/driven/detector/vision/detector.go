// Package vision adapts Google Cloud Vision object localization to the
// driven.Detector port.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/vision/v1"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
	"github.com/custodia-labs/detectsearch/internal/logger"
)

// Ensure Detector implements the interface.
var _ driven.Detector = (*Detector)(nil)

const featureObjectLocalization = "OBJECT_LOCALIZATION"

// DefaultMaxResults is the annotation limit requested per image.
const DefaultMaxResults = 50

// ErrAnnotate indicates Vision returned a per-image error.
var ErrAnnotate = errors.New("vision: annotate failed")

// Detector calls images:annotate for each image.
type Detector struct {
	svc        *vision.Service
	maxResults int64
}

// New creates a Detector authenticated with an API key.
// Extra client options are applied after the key, so tests can point the
// client at a fake endpoint.
func New(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Detector, error) {
	if apiKey == "" && len(opts) == 0 {
		return nil, fmt.Errorf("%w: vision api key not configured", domain.ErrDetectorUnavailable)
	}
	all := make([]option.ClientOption, 0, len(opts)+1)
	if apiKey != "" {
		all = append(all, option.WithAPIKey(apiKey))
	}
	all = append(all, opts...)

	svc, err := vision.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create vision service: %w", err)
	}
	return &Detector{svc: svc, maxResults: DefaultMaxResults}, nil
}

// Detect localizes objects in the image bytes.
func (d *Detector) Detect(ctx context.Context, image []byte) ([]domain.RawDetection, error) {
	if len(image) == 0 {
		return nil, domain.NewValidationError("image", "is empty")
	}

	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image: &vision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*vision.Feature{{
				Type:       featureObjectLocalization,
				MaxResults: d.maxResults,
			}},
		}},
	}

	logger.Debug("vision: annotating %d bytes", len(image))
	resp, err := d.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Responses) == 0 {
		return nil, nil
	}

	first := resp.Responses[0]
	if first.Error != nil && first.Error.Code != 0 {
		return nil, fmt.Errorf("%w: %s (code %d)", ErrAnnotate, first.Error.Message, first.Error.Code)
	}
	detections := FromResponse(first)
	logger.Debug("vision: %d objects localized", len(detections))
	return detections, nil
}

// FromResponse converts localized object annotations into raw detections.
// Entries are passed through unvalidated; a nil bounding polygon becomes an
// empty vertex list and is dropped later by the normaliser.
func FromResponse(resp *vision.AnnotateImageResponse) []domain.RawDetection {
	if resp == nil {
		return nil
	}
	out := make([]domain.RawDetection, 0, len(resp.LocalizedObjectAnnotations))
	for _, ann := range resp.LocalizedObjectAnnotations {
		if ann == nil {
			continue
		}
		raw := domain.RawDetection{Name: ann.Name, Score: ann.Score}
		if ann.BoundingPoly != nil {
			for _, v := range ann.BoundingPoly.NormalizedVertices {
				if v == nil {
					continue
				}
				raw.Vertices = append(raw.Vertices, domain.Point{X: v.X, Y: v.Y})
			}
		}
		out = append(out, raw)
	}
	return out
}

// DecodeResponse parses a saved AnnotateImageResponse or
// BatchAnnotateImagesResponse document. For a batch, the first response is used.
func DecodeResponse(data []byte) ([]domain.RawDetection, error) {
	var probe struct {
		Responses json.RawMessage `json:"responses"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, domain.NewValidationError("visionResponse", err.Error())
	}

	if probe.Responses != nil {
		var batch vision.BatchAnnotateImagesResponse
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, domain.NewValidationError("visionResponse", err.Error())
		}
		if len(batch.Responses) == 0 {
			return nil, nil
		}
		return FromResponse(batch.Responses[0]), nil
	}

	var single vision.AnnotateImageResponse
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, domain.NewValidationError("visionResponse", err.Error())
	}
	return FromResponse(&single), nil
}

// classify maps API failures onto domain errors.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden {
			return fmt.Errorf("%w: %w", domain.ErrDetectorUnavailable, err)
		}
	}
	return fmt.Errorf("annotate image: %w", err)
}
