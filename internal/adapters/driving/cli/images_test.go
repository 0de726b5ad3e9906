package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

func resetImagesFlags() {
	imagesLimit = 0
	imagesCursor = ""
	imagesJSON = false
}

func TestImagesCmd_Subcommands(t *testing.T) {
	names := make([]string, 0, len(imagesCmd.Commands()))
	for _, c := range imagesCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"list", "get", "delete", "status"}, names)
}

func TestImagesList(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	defer resetImagesFlags()

	out, err := execute("images", "list", "u1")

	require.NoError(t, err)
	assert.Contains(t, out, "img1  2025-03-14T09:00:00Z  2 objects  [chair lamp]")
	assert.NotContains(t, out, "Next page")

	out, err = execute("images", "list", "nobody")
	require.NoError(t, err)
	assert.Contains(t, out, "No images found.")
}

func TestImagesList_JSON(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	defer resetImagesFlags()

	out, err := execute("images", "list", "--json", "u1")

	require.NoError(t, err)
	assert.Contains(t, out, `"imageId": "img1"`)
	assert.Contains(t, out, `"records": [`)
	assert.Contains(t, out, `"nextCursor": ""`)
}

func TestImagesGet(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	defer resetImagesFlags()

	out, err := execute("images", "get", "img1")

	require.NoError(t, err)
	assert.Contains(t, out, "User:      u1")
	assert.Contains(t, out, "Stored at: gs://uploads/img1.jpg")
	assert.Contains(t, out, "Version:   1")
	assert.Contains(t, out, "Chair")
	assert.Contains(t, out, "(0.100,0.100)")
}

func TestImagesGet_NotFound(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	_, err := execute("images", "get", "missing")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestImagesDelete(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("images", "delete", "img1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted img1")

	out, err = execute("search", "u1", "chair")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")

	out, err = execute("images", "status", "img1")
	require.NoError(t, err)
	assert.Contains(t, out, "img1: deleted")

	// Idempotent.
	_, err = execute("images", "delete", "img1")
	assert.NoError(t, err)
}

func TestImagesStatus(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("images", "status", "img1")
	require.NoError(t, err)
	assert.Contains(t, out, "img1: indexed (searchable)")

	_, err = execute("images", "status", "never-seen")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestImagesCmd_ServiceNotConfigured(t *testing.T) {
	old := detectionService
	detectionService = nil
	defer func() { detectionService = old }()

	for _, args := range [][]string{
		{"images", "list", "u1"},
		{"images", "get", "img1"},
		{"images", "delete", "img1"},
		{"images", "status", "img1"},
	} {
		_, err := execute(args...)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "detection service not configured")
	}
}

func TestFormatPolygon(t *testing.T) {
	assert.Equal(t, "", formatPolygon(nil))
	assert.Equal(t, "(0.100,0.200) (0.300,0.400)", formatPolygon([]domain.Point{{X: 0.1, Y: 0.2}, {X: 0.3, Y: 0.4}}))
}
