package cli

import (
	"bytes"
	"context"
	"time"

	"github.com/custodia-labs/detectsearch/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/services"
)

var testTime = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func testSquare(offset float64) []domain.Point {
	return []domain.Point{
		{X: 0.1 + offset, Y: 0.1}, {X: 0.4 + offset, Y: 0.1},
		{X: 0.4 + offset, Y: 0.5}, {X: 0.1 + offset, Y: 0.5},
	}
}

// setupTestServices wires in-memory services seeded with img1 for u1
// (Chair 0.85, Lamp 0.60) and returns a function restoring the previous ones.
func setupTestServices() func() {
	previous := &Services{
		Ingest:     ingestService,
		Detections: detectionService,
		Search:     searchService,
		Repair:     repairService,
		Worker:     indexWorker,
		Settings:   settingsService,
		Scheduler:  scheduler,
		Detector:   detector,
		Metrics:    metricsServer,
	}

	queue := memory.NewIndexQueue()
	ports := services.Ports{
		Store: memory.NewDetectionStore(queue),
		Index: memory.NewLabelIndex(),
		Queue: queue,
	}
	settings := domain.DefaultSettings()
	coord := services.NewCoordinator()
	settingsSvc := services.NewSettingsService(memory.NewConfigStore()).
		WithEnv(func(string) (string, bool) { return "", false })

	ingest := services.NewIngestService(ports, coord, settings)
	SetServices(&Services{
		Ingest:     ingest,
		Detections: services.NewDetectionService(ports, coord, settings),
		Search:     services.NewSearchService(ports, settings),
		Repair:     services.NewRepairService(ports, coord, settings),
		Worker:     services.NewIndexWorker(ports, coord, settings),
		Settings:   settingsSvc,
	})

	_, err := ingest.Ingest(context.Background(), domain.IngestEvent{
		ImageID:         "img1",
		UserID:          "u1",
		Timestamp:       testTime,
		ImageStorageRef: "gs://uploads/img1.jpg",
		RawDetections: []domain.RawDetection{
			{Name: "Chair", Score: 0.85, Vertices: testSquare(0)},
			{Name: "Lamp", Score: 0.60, Vertices: testSquare(0.5)},
		},
	})
	if err != nil {
		panic(err)
	}

	return func() { SetServices(previous) }
}

// execute runs the root command with args and returns its combined output.
func execute(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}
