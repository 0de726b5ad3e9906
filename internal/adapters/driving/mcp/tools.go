package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

// defaultToolLimit is the page size used when a tool call sets none.
const defaultToolLimit = 10

// SearchImagesInput is the input schema for the search_images tool.
type SearchImagesInput struct {
	UserID string `json:"user_id" jsonschema:"the user whose images are searched"`
	Label  string `json:"label" jsonschema:"object label to match exactly, case-insensitive (e.g. chair)"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of results to return (default 10)"`
	Cursor string `json:"cursor,omitempty" jsonschema:"next_cursor from a previous call"`
	Strict bool   `json:"strict,omitempty" jsonschema:"validate every hit against the detection store"`
}

// SearchImagesOutput is the output schema for the search_images tool.
type SearchImagesOutput struct {
	Results    []ImageOutput `json:"results"`
	Count      int           `json:"count"`
	NextCursor string        `json:"next_cursor,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// ListImagesInput is the input schema for the list_images tool.
type ListImagesInput struct {
	UserID string `json:"user_id" jsonschema:"the user whose images are listed"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of images to return (default 10)"`
	Cursor string `json:"cursor,omitempty" jsonschema:"next_cursor from a previous call"`
}

// ListImagesOutput is the output schema for the list_images tool.
type ListImagesOutput struct {
	Images     []ImageOutput `json:"images"`
	Count      int           `json:"count"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// GetImageInput is the input schema for the get_image tool.
type GetImageInput struct {
	ImageID string `json:"image_id" jsonschema:"the image to fetch"`
}

// ImageOutput is a single image with its detections.
type ImageOutput struct {
	ImageID    string         `json:"image_id"`
	UserID     string         `json:"user_id"`
	Timestamp  string         `json:"timestamp"`
	StorageRef string         `json:"storage_ref,omitempty"`
	Objects    []ObjectOutput `json:"objects,omitempty"`

	// MatchedLabel and Confidence are set for search hits.
	MatchedLabel string  `json:"matched_label,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// ObjectOutput is one detected object.
type ObjectOutput struct {
	Label      string         `json:"label"`
	Confidence float64        `json:"confidence"`
	Polygon    []domain.Point `json:"polygon"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_images",
		Description: "Find a user's images that contain an object with the given label, newest first",
	}, s.handleSearchImages)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_images",
		Description: "List a user's images with their detected objects, newest first",
	}, s.handleListImages)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_image",
		Description: "Get the detected objects for one image",
	}, s.handleGetImage)
}

// handleSearchImages handles the search_images tool invocation.
func (s *Server) handleSearchImages(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchImagesInput,
) (*mcp.CallToolResult, SearchImagesOutput, error) {
	opts := domain.SearchOptions{
		Cursor: input.Cursor,
		Limit:  toolLimit(input.Limit),
		Strict: input.Strict,
	}
	page, err := s.ports.Search.Search(ctx, input.UserID, input.Label, opts)
	if err != nil {
		return nil, SearchImagesOutput{}, err
	}

	output := SearchImagesOutput{
		Results:    make([]ImageOutput, 0, len(page.Results)),
		Count:      len(page.Results),
		NextCursor: page.NextCursor,
	}
	for _, res := range page.Results {
		var img ImageOutput
		if res.Record != nil {
			img = toImageOutput(res.Record)
			img.Confidence = res.Record.BestConfidence(res.Hit.Label)
		} else {
			img = ImageOutput{
				ImageID:   res.Hit.ImageID,
				UserID:    res.Hit.UserID,
				Timestamp: formatTime(time.Unix(0, res.Hit.Timestamp)),
			}
		}
		img.MatchedLabel = res.Hit.Label
		output.Results = append(output.Results, img)
	}
	for _, w := range page.Warnings {
		output.Warnings = append(output.Warnings, w.ImageID+": "+string(w.Reason))
	}

	return nil, output, nil
}

// handleListImages handles the list_images tool invocation.
func (s *Server) handleListImages(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListImagesInput,
) (*mcp.CallToolResult, ListImagesOutput, error) {
	if s.ports.Detections == nil {
		return nil, ListImagesOutput{}, ErrDetectionsUnavailable
	}

	opts := domain.SearchOptions{Cursor: input.Cursor, Limit: toolLimit(input.Limit)}
	page, err := s.ports.Detections.ListByUser(ctx, input.UserID, opts)
	if err != nil {
		return nil, ListImagesOutput{}, err
	}

	output := ListImagesOutput{
		Images:     make([]ImageOutput, len(page.Records)),
		Count:      len(page.Records),
		NextCursor: page.NextCursor,
	}
	for i := range page.Records {
		output.Images[i] = toImageOutput(&page.Records[i])
	}
	return nil, output, nil
}

// handleGetImage handles the get_image tool invocation.
func (s *Server) handleGetImage(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetImageInput,
) (*mcp.CallToolResult, ImageOutput, error) {
	if s.ports.Detections == nil {
		return nil, ImageOutput{}, ErrDetectionsUnavailable
	}

	rec, err := s.ports.Detections.Get(ctx, input.ImageID)
	if err != nil {
		return nil, ImageOutput{}, err
	}
	return nil, toImageOutput(rec), nil
}

func toolLimit(limit int) int {
	if limit <= 0 {
		return defaultToolLimit
	}
	return limit
}

func toImageOutput(rec *domain.DetectionRecord) ImageOutput {
	out := ImageOutput{
		ImageID:    rec.ImageID,
		UserID:     rec.UserID,
		Timestamp:  formatTime(rec.Timestamp),
		StorageRef: rec.ImageStorageRef,
		Objects:    make([]ObjectOutput, len(rec.Objects)),
	}
	for i, obj := range rec.Objects {
		out.Objects[i] = ObjectOutput{
			Label:      obj.Label,
			Confidence: obj.Confidence,
			Polygon:    obj.BoundingPolygon,
		}
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
