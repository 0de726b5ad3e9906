package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/detectsearch/internal/adapters/driving/inbox"
	"github.com/custodia-labs/detectsearch/internal/logger"
)

var watchMetricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch [inbox-dir]",
	Short: "Ingest event files dropped into a directory",
	Long: `Watches a directory for *.json ingestion events and stores each one.
Handled files are moved to processed/ or failed/ inside the directory.

While running, the background scheduler drains queued index updates and
periodically repairs the index. With --metrics-addr (or metrics.addr),
Prometheus metrics are served at /metrics.

The directory defaults to the inbox.dir setting.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}

	settings := currentSettings()
	dir := settings.InboxDir
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		return errors.New("no inbox directory: pass one or set inbox.dir")
	}
	addr := watchMetricsAddr
	if addr == "" {
		addr = settings.MetricsAddr
	}

	watcher := inbox.New(dir, ingestService).
		WithRetry(settings.Index.RetryBase, settings.Index.RetryMax, settings.Index.MaxAttempts)
	watcher.OnHandled = func(o inbox.Outcome) {
		if o.Err != nil {
			cmd.Printf("failed    %s: %v\n", o.Path, o.Err)
			return
		}
		cmd.Printf("ingested  %s\n", o.ImageID)
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	if scheduler != nil && settings.Scheduler.Enabled {
		go func() {
			if err := scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				// Scheduler failures do not stop ingestion.
				logger.Error("scheduler stopped: %v", err)
			}
		}()
		defer scheduler.Stop() //nolint:errcheck
	}

	metricsErr := make(chan error, 1)
	if addr != "" && metricsServer != nil {
		go func() {
			metricsErr <- metricsServer.Serve(ctx, addr)
		}()
	}

	cmd.Printf("Watching %s (Ctrl+C to stop)\n", dir)

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- watcher.Run(ctx)
	}()
	select {
	case err := <-watchErr:
		if err != nil {
			return fmt.Errorf("watch failed: %w", err)
		}
		return nil
	case err := <-metricsErr:
		cancel()
		<-watchErr
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}
