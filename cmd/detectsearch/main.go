// Command detectsearch stores object detections for user images and
// searches them by label.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/detectsearch/internal/adapters/driven/config/file"
	"github.com/custodia-labs/detectsearch/internal/adapters/driven/detector/vision"
	"github.com/custodia-labs/detectsearch/internal/adapters/driven/metrics/prometheus"
	"github.com/custodia-labs/detectsearch/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/detectsearch/internal/adapters/driving/cli"
	"github.com/custodia-labs/detectsearch/internal/core/services"
	"github.com/custodia-labs/detectsearch/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// A .env file in the working directory seeds DETECTSEARCH_* variables.
	// Variables already set in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	configStore, err := file.NewConfigStore("")
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	settingsService := services.NewSettingsService(configStore)

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := settingsService.Validate(); err != nil {
		logger.Warn("%v", err)
	}

	store, err := sqlite.NewStore(settings.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	metrics := prometheus.New()
	ports := services.Ports{
		Store:   store.DetectionStore(),
		Index:   store.LabelIndex(),
		Queue:   store.IndexQueue(),
		Metrics: metrics,
	}
	coord := services.NewCoordinator()

	worker := services.NewIndexWorker(ports, coord, *settings)
	repair := services.NewRepairService(ports, coord, *settings)

	svc := &cli.Services{
		Ingest:     services.NewIngestService(ports, coord, *settings),
		Detections: services.NewDetectionService(ports, coord, *settings),
		Search:     services.NewSearchService(ports, *settings),
		Repair:     repair,
		Worker:     worker,
		Settings:   settingsService,
		Scheduler:  services.NewScheduler(settings.Scheduler, store.SchedulerStore(), worker, repair),
		Metrics:    metrics,
	}

	if settings.VisionAPIKey != "" {
		detector, err := vision.New(ctx, settings.VisionAPIKey)
		if err != nil {
			logger.Warn("vision detector unavailable: %v", err)
		} else {
			svc.Detector = detector
		}
	}

	cli.SetVersion(version)
	cli.SetServices(svc)
	return cli.Execute(ctx)
}
