package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

var (
	searchLimit  int
	searchCursor string
	searchStrict bool
	searchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search [user] [label]",
	Short: "Find a user's images by object label",
	Long: `Lists the user's images that contain an object with the given label,
newest first. Matching is exact and case-insensitive: "chair" finds "Chair"
but not "armchair".

Use --strict to check every hit against the stored detections, and
--cursor with the printed next cursor to fetch the following page.`,
	Args: cobra.ExactArgs(2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (default from settings)")
	searchCmd.Flags().StringVar(&searchCursor, "cursor", "", "continue from a previous page")
	searchCmd.Flags().BoolVar(&searchStrict, "strict", false, "validate every hit against the detection store")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchService == nil {
		return errors.New("search service not configured")
	}

	opts := domain.SearchOptions{
		Cursor: searchCursor,
		Limit:  searchLimit,
		Strict: searchStrict,
	}

	page, err := searchService.Search(commandContext(cmd), args[0], args[1], opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return printJSON(cmd, page)
	}

	return outputSearchTable(cmd, args[1], page)
}

func outputSearchTable(cmd *cobra.Command, label string, page *domain.SearchPage) error {
	if len(page.Results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Println("Results:")
	cmd.Println()
	for i, res := range page.Results {
		// Format: [N] imageID  timestamp  (best confidence)
		ts := time.Unix(0, res.Hit.Timestamp).UTC().Format(time.RFC3339)
		cmd.Printf("  [%d] %s  %s", i+1, res.Hit.ImageID, ts)
		if res.Record != nil {
			cmd.Printf("  (%.2f)", res.Record.BestConfidence(label))
			if res.Record.ImageStorageRef != "" {
				cmd.Printf("\n      %s", res.Record.ImageStorageRef)
			}
		}
		cmd.Println()
	}

	for _, w := range page.Warnings {
		cmd.Printf("\nWarning: %s skipped (%s)", w.ImageID, w.Reason)
	}
	if len(page.Warnings) > 0 {
		cmd.Println()
	}

	if page.NextCursor != "" {
		cmd.Println()
		cmd.Printf("Next page: --cursor %s\n", page.NextCursor)
	}
	return nil
}
