// Package mcp provides an MCP (Model Context Protocol) server adapter for detectsearch.
// It lets AI assistants search a user's images by detected object label.
package mcp

import "errors"

// ErrMissingSearchService is returned when the search service is not provided.
var ErrMissingSearchService = errors.New("mcp: search service is required")

// ErrDetectionsUnavailable is returned by image tools when no detection service is wired.
var ErrDetectionsUnavailable = errors.New("mcp: detection service is not configured")
