package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/detectsearch/internal/adapters/driven/detector/vision"
	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/logger"
	"github.com/custodia-labs/detectsearch/internal/normalisers/detection"
)

var (
	ingestImage          string
	ingestVisionResponse string
	ingestImageID        string
	ingestUserID         string
	ingestTimestamp      string
	ingestStorageRef     string
	ingestJSON           bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [event.json]",
	Short: "Store detections for an image",
	Long: `Stores the detected objects for one image and updates the label index.

The detections come from one of:
  - an ingestion event file ("-" reads standard input)
  - --image, which runs the configured Google Vision detector on a local file
  - --vision-response, a saved Vision API annotate response

With --image or --vision-response, --image-id and --user are required.
Re-ingesting an image replaces its previous detections.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestImage, "image", "", "local image to run the detector on")
	ingestCmd.Flags().StringVar(&ingestVisionResponse, "vision-response", "", "saved Vision annotate response JSON")
	ingestCmd.Flags().StringVar(&ingestImageID, "image-id", "", "image identifier")
	ingestCmd.Flags().StringVar(&ingestUserID, "user", "", "owning user identifier")
	ingestCmd.Flags().StringVar(&ingestTimestamp, "timestamp", "", "capture time as RFC 3339 (default now)")
	ingestCmd.Flags().StringVar(&ingestStorageRef, "ref", "", "storage locator for the original image")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output the stored record as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}

	event, err := buildIngestEvent(cmd, args)
	if err != nil {
		return err
	}

	result, err := ingestService.Ingest(commandContext(cmd), *event)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	if ingestJSON {
		return printJSON(cmd, result.Record)
	}

	rec := result.Record
	cmd.Printf("Stored %s for user %s (version %d)\n", rec.ImageID, rec.UserID, rec.Version)
	cmd.Printf("  Objects: %d", len(rec.Objects))
	if result.Dropped > 0 {
		cmd.Printf(" (%d dropped)", result.Dropped)
	}
	cmd.Println()
	cmd.Printf("  State:   %s\n", describeState(result.State))
	for _, obj := range rec.Objects {
		cmd.Printf("    %-20s %.2f\n", obj.Label, obj.Confidence)
	}
	return nil
}

func buildIngestEvent(cmd *cobra.Command, args []string) (*domain.IngestEvent, error) {
	sources := 0
	for _, set := range []bool{len(args) == 1, ingestImage != "", ingestVisionResponse != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, errors.New("provide exactly one of an event file, --image or --vision-response")
	}

	if len(args) == 1 {
		return readEventFile(cmd, args[0])
	}

	ts := time.Now().UTC()
	if ingestTimestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ingestTimestamp)
		if err != nil {
			return nil, fmt.Errorf("invalid --timestamp: %w", err)
		}
		ts = parsed
	}

	event := &domain.IngestEvent{
		ImageID:         ingestImageID,
		UserID:          ingestUserID,
		Timestamp:       ts,
		ImageStorageRef: ingestStorageRef,
	}

	var err error
	if ingestImage != "" {
		event.RawDetections, err = detectImage(cmd, ingestImage)
		if event.ImageStorageRef == "" {
			event.ImageStorageRef = ingestImage
		}
	} else {
		event.RawDetections, err = readVisionResponse(ingestVisionResponse)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func readEventFile(cmd *cobra.Command, path string) (*domain.IngestEvent, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}

	event, malformed, err := detection.DecodeEvent(data)
	if err != nil {
		return nil, err
	}
	if malformed > 0 {
		logger.Warn("%d malformed detections skipped", malformed)
	}
	return event, nil
}

func detectImage(cmd *cobra.Command, path string) ([]domain.RawDetection, error) {
	if detector == nil {
		return nil, fmt.Errorf("%w: set vision.api_key or DETECTSEARCH_VISION_API_KEY", domain.ErrDetectorUnavailable)
	}
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	raw, err := detector.Detect(commandContext(cmd), image)
	if err != nil {
		return nil, fmt.Errorf("detect objects: %w", err)
	}
	return raw, nil
}

func readVisionResponse(path string) ([]domain.RawDetection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vision response: %w", err)
	}
	return vision.DecodeResponse(data)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// describeState renders a lifecycle state for people.
func describeState(state domain.RecordState) string {
	switch state {
	case domain.StatePending:
		return "pending (accepted, not yet stored)"
	case domain.StateStored:
		return "stored (index update queued)"
	case domain.StateIndexed:
		return "indexed (searchable)"
	case domain.StateDeleted:
		return "deleted"
	default:
		return string(state)
	}
}

