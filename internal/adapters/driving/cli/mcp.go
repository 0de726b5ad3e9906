package cli

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/detectsearch/internal/adapters/driving/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose image search to MCP clients",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve search_images, list_images and get_image over MCP",
	Long: `Serve the image tools over the Model Context Protocol.

With no flags the server speaks JSON-RPC on stdin and stdout, which is how
desktop assistants launch it:

  {"mcpServers": {"detectsearch": {"command": "detectsearch", "args": ["mcp", "serve"]}}}

With --port it listens for streamable HTTP on /mcp instead and answers
GET /healthz, which suits the MCP Inspector or a shared deployment:

  detectsearch mcp serve --port 8080`,
	Args: cobra.NoArgs,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(&mcp.Ports{
		Search:     searchService,
		Detections: detectionService,
	}, version)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	if port <= 0 {
		return server.Run(ctx)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	cmd.Printf("MCP server listening on http://localhost:%d/mcp\n", port)
	return server.RunHTTP(ctx, ln)
}
