// Package cli provides the detectsearch command line interface.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driving"
	"github.com/custodia-labs/detectsearch/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// MetricsServer exposes collected metrics over HTTP.
type MetricsServer interface {
	Serve(ctx context.Context, addr string) error
}

// Services holds everything the commands call into.
// Fields left nil make the commands that need them fail with a clear error.
type Services struct {
	Ingest     driving.IngestService
	Detections driving.DetectionService
	Search     driving.SearchService
	Repair     driving.RepairService
	Worker     driving.IndexWorker
	Settings   driving.SettingsService
	Scheduler  driving.Scheduler
	Detector   driven.Detector
	Metrics    MetricsServer
}

var (
	ingestService    driving.IngestService
	detectionService driving.DetectionService
	searchService    driving.SearchService
	repairService    driving.RepairService
	indexWorker      driving.IndexWorker
	settingsService  driving.SettingsService
	scheduler        driving.Scheduler
	detector         driven.Detector
	metricsServer    MetricsServer
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "detectsearch",
	Short: "Store object detections and search images by label",
	Long: `detectsearch stores the objects a detector found in each image and
keeps a label index so a user's images can be found by what they contain.

Detections arrive as JSON ingestion events, from a watched inbox directory,
or by running the Google Vision detector on a local image.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print debug logs to stderr")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// SetServices injects the services used by every command.
func SetServices(s *Services) {
	ingestService = s.Ingest
	detectionService = s.Detections
	searchService = s.Search
	repairService = s.Repair
	indexWorker = s.Worker
	settingsService = s.Settings
	scheduler = s.Scheduler
	detector = s.Detector
	metricsServer = s.Metrics
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// commandContext returns the command's context, or Background when run
// without one as in tests.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// currentSettings returns configured settings, or defaults when no settings
// service is wired.
func currentSettings() domain.Settings {
	if settingsService == nil {
		return domain.DefaultSettings()
	}
	settings, err := settingsService.Get()
	if err != nil {
		logger.Warn("settings: %v; using defaults", err)
		return domain.DefaultSettings()
	}
	return *settings
}
