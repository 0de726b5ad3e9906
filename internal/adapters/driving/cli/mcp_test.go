package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMCPServeCmd_Flags(t *testing.T) {
	flag := mcpServeCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "p", flag.Shorthand)
	assert.Equal(t, "0", flag.DefValue)
}

func TestMCPServeCmd_RequiresSearchService(t *testing.T) {
	old := searchService
	searchService = nil
	defer func() { searchService = old }()

	_, err := execute("mcp", "serve")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "search service")
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ingest", "search", "images", "repair", "drain", "watch", "config", "mcp", "version"} {
		assert.True(t, names[want], want)
	}
}
