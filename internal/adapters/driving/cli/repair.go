package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var repairUser string

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Rebuild the label index from stored detections",
	Long: `Reconciles the label index with the detection store. Images whose
index entries are missing or stale are reindexed and entries for images
that no longer exist are removed. Safe to run at any time.`,
	Args: cobra.NoArgs,
	RunE: runRepair,
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Apply queued label index updates now",
	Args:  cobra.NoArgs,
	RunE:  runDrain,
}

func init() {
	repairCmd.Flags().StringVar(&repairUser, "user", "", "repair a single user (default all users)")
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(drainCmd)
}

func runRepair(cmd *cobra.Command, _ []string) error {
	if repairService == nil {
		return errors.New("repair service not configured")
	}

	report, err := repairService.Repair(commandContext(cmd), repairUser)
	if err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}

	cmd.Printf("Scanned %d records\n", report.RecordsScanned)
	cmd.Printf("  Reindexed:       %d\n", report.Reindexed)
	cmd.Printf("  Orphans removed: %d\n", report.OrphansRemoved)
	if !report.Changed() {
		cmd.Println("Index is consistent.")
	}
	return nil
}

func runDrain(cmd *cobra.Command, _ []string) error {
	if indexWorker == nil {
		return errors.New("index worker not configured")
	}

	applied, err := indexWorker.Drain(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("drain failed: %w", err)
	}
	cmd.Printf("Applied %d index updates\n", applied)
	return nil
}
