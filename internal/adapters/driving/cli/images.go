package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

var (
	imagesLimit  int
	imagesCursor string
	imagesJSON   bool
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Manage stored detection records",
	Long:  `List, inspect and delete the detection records stored for each image.`,
}

var imagesListCmd = &cobra.Command{
	Use:   "list [user]",
	Short: "List a user's images, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runImagesList,
}

var imagesGetCmd = &cobra.Command{
	Use:   "get [image-id]",
	Short: "Show the detections for an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runImagesGet,
}

var imagesDeleteCmd = &cobra.Command{
	Use:   "delete [image-id]",
	Short: "Delete an image's detections and index entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runImagesDelete,
}

var imagesStatusCmd = &cobra.Command{
	Use:   "status [image-id]",
	Short: "Show where an image is in the store and index",
	Args:  cobra.ExactArgs(1),
	RunE:  runImagesStatus,
}

func init() {
	imagesListCmd.Flags().IntVarP(&imagesLimit, "limit", "n", 0, "maximum number of images (default from settings)")
	imagesListCmd.Flags().StringVar(&imagesCursor, "cursor", "", "continue from a previous page")
	imagesListCmd.Flags().BoolVar(&imagesJSON, "json", false, "output as JSON")
	imagesGetCmd.Flags().BoolVar(&imagesJSON, "json", false, "output as JSON")

	imagesCmd.AddCommand(imagesListCmd)
	imagesCmd.AddCommand(imagesGetCmd)
	imagesCmd.AddCommand(imagesDeleteCmd)
	imagesCmd.AddCommand(imagesStatusCmd)
	rootCmd.AddCommand(imagesCmd)
}

func runImagesList(cmd *cobra.Command, args []string) error {
	if detectionService == nil {
		return errors.New("detection service not configured")
	}

	opts := domain.SearchOptions{Cursor: imagesCursor, Limit: imagesLimit}
	page, err := detectionService.ListByUser(commandContext(cmd), args[0], opts)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	if imagesJSON {
		return printJSON(cmd, page)
	}

	if len(page.Records) == 0 {
		cmd.Println("No images found.")
		return nil
	}

	for i := range page.Records {
		rec := &page.Records[i]
		cmd.Printf("  %s  %s  %d objects", rec.ImageID, rec.Timestamp.UTC().Format(time.RFC3339), len(rec.Objects))
		if labels := rec.Labels(); len(labels) > 0 {
			cmd.Printf("  %v", labels)
		}
		cmd.Println()
	}
	if page.NextCursor != "" {
		cmd.Println()
		cmd.Printf("Next page: --cursor %s\n", page.NextCursor)
	}
	return nil
}

func runImagesGet(cmd *cobra.Command, args []string) error {
	if detectionService == nil {
		return errors.New("detection service not configured")
	}

	rec, err := detectionService.Get(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("failed to get image: %w", err)
	}

	if imagesJSON {
		return printJSON(cmd, rec)
	}

	cmd.Printf("Image:     %s\n", rec.ImageID)
	cmd.Printf("User:      %s\n", rec.UserID)
	cmd.Printf("Timestamp: %s\n", rec.Timestamp.UTC().Format(time.RFC3339Nano))
	if rec.ImageStorageRef != "" {
		cmd.Printf("Stored at: %s\n", rec.ImageStorageRef)
	}
	cmd.Printf("Version:   %d\n", rec.Version)
	cmd.Println()

	if len(rec.Objects) == 0 {
		cmd.Println("No objects detected.")
		return nil
	}
	cmd.Println("Objects:")
	for _, obj := range rec.Objects {
		cmd.Printf("  %-20s %.2f  %s\n", obj.Label, obj.Confidence, formatPolygon(obj.BoundingPolygon))
	}
	return nil
}

func runImagesDelete(cmd *cobra.Command, args []string) error {
	if detectionService == nil {
		return errors.New("detection service not configured")
	}

	if err := detectionService.Delete(commandContext(cmd), args[0]); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	cmd.Printf("Deleted %s\n", args[0])
	return nil
}

func runImagesStatus(cmd *cobra.Command, args []string) error {
	if detectionService == nil {
		return errors.New("detection service not configured")
	}

	state, err := detectionService.State(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	cmd.Printf("%s: %s\n", args[0], describeState(state))
	return nil
}

func formatPolygon(pts []domain.Point) string {
	out := ""
	for i, p := range pts {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("(%.3f,%.3f)", p.X, p.Y)
	}
	return out
}
