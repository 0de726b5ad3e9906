package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

const uriScheme = "detectsearch://"

func (s *Server) registerResources() {
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "users/{userId}/images",
		Name:        "user-images",
		Description: "A user's most recent images with their detected objects",
		MIMEType:    "application/json",
	}, s.handleUserImagesResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "images/{imageId}",
		Name:        "image-detections",
		Description: "Detected objects for a specific image",
		MIMEType:    "application/json",
	}, s.handleImageResource)
}

// handleUserImagesResource returns the first page of a user's images.
func (s *Server) handleUserImagesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Detections == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	userID := extractUserID(req.Params.URI)
	if userID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	page, err := s.ports.Detections.ListByUser(ctx, userID, domain.SearchOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}

	images := make([]ImageOutput, len(page.Records))
	for i := range page.Records {
		images[i] = toImageOutput(&page.Records[i])
	}
	return jsonResource(req.Params.URI, images)
}

// handleImageResource returns the record for a specific image.
func (s *Server) handleImageResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Detections == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	imageID := extractImageID(req.Params.URI)
	if imageID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	rec, err := s.ports.Detections.Get(ctx, imageID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	if err != nil {
		return nil, fmt.Errorf("getting image: %w", err)
	}
	return jsonResource(req.Params.URI, toImageOutput(rec))
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// uriParam returns the single path segment between prefix and suffix,
// or "" when uri has another shape.
func uriParam(uri, prefix, suffix string) string {
	rest, ok := strings.CutPrefix(uri, uriScheme+prefix)
	if !ok {
		return ""
	}
	param, ok := strings.CutSuffix(rest, suffix)
	if !ok || strings.Contains(param, "/") {
		return ""
	}
	return param
}

func extractUserID(uri string) string  { return uriParam(uri, "users/", "/images") }
func extractImageID(uri string) string { return uriParam(uri, "images/", "") }
