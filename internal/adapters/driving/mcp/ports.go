package mcp

import (
	"github.com/custodia-labs/detectsearch/internal/core/ports/driving"
)

// Ports are the services the tools call. Search is required; without
// Detections the list_images and get_image tools return
// ErrDetectionsUnavailable.
type Ports struct {
	Search     driving.SearchService
	Detections driving.DetectionService
}

// Validate reports a missing required service.
func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearchService
	}
	return nil
}
