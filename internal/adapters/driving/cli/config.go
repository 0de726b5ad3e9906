package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/services"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage application settings",
	Long: `View and change settings stored in ~/.detectsearch/config.toml.

Every key can also be set through the environment: index.mode is read
from DETECTSEARCH_INDEX_MODE. Environment values take precedence.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a setting",
	Long: `Set a setting by dotted key. When the value is omitted for
vision.api_key it is read from the terminal without echo.

Durations use Go syntax such as 500ms, 30s or 1h.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runConfigSet,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List recognised setting keys",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, key := range services.SettingsKeys() {
			cmd.Printf("  %-26s %s\n", key, services.EnvKey(key))
		}
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Printf("Config file: %s\n", settingsService.ConfigPath())
	cmd.Println()

	cmd.Println("[Storage]")
	dataDir := settings.Storage.DataDir
	if dataDir == "" {
		dataDir = "(default ~/.detectsearch/data)"
	}
	cmd.Printf("  Data dir:   %s\n", dataDir)
	cmd.Printf("  Op timeout: %s\n", settings.Storage.OpTimeout)
	cmd.Println()

	cmd.Println("[Index]")
	cmd.Printf("  Mode:         %s\n", settings.Index.Mode.Description())
	cmd.Printf("  Max attempts: %d\n", settings.Index.MaxAttempts)
	cmd.Printf("  Retry:        %s doubling to %s\n", settings.Index.RetryBase, settings.Index.RetryMax)
	cmd.Printf("  Drain batch:  %d\n", settings.Index.DrainBatch)
	cmd.Println()

	cmd.Println("[Search]")
	cmd.Printf("  Default limit: %d\n", settings.Search.DefaultLimit)
	cmd.Printf("  Strict:        %t\n", settings.Search.Strict)
	cmd.Println()

	cmd.Println("[Repair]")
	cmd.Printf("  Batch size: %d\n", settings.Repair.BatchSize)
	cmd.Printf("  Rate:       %.1f batches/s\n", settings.Repair.RatePerSecond)
	cmd.Println()

	cmd.Println("[Scheduler]")
	cmd.Printf("  Enabled: %t\n", settings.Scheduler.Enabled)
	for _, id := range []string{domain.TaskIDIndexDrain, domain.TaskIDIndexRepair} {
		tc := settings.Scheduler.GetTaskConfig(id)
		if tc.Enabled {
			cmd.Printf("  %s: every %s\n", id, tc.Interval)
		} else {
			cmd.Printf("  %s: disabled\n", id)
		}
	}
	cmd.Println()

	cmd.Println("[Integrations]")
	cmd.Printf("  Inbox dir:    %s\n", orNotSet(settings.InboxDir))
	cmd.Printf("  Metrics addr: %s\n", orNotSet(settings.MetricsAddr))
	if settings.VisionAPIKey != "" {
		cmd.Printf("  Vision key:   %s\n", maskAPIKey(settings.VisionAPIKey))
	} else {
		cmd.Printf("  Vision key:   (not set)\n")
	}
	cmd.Println()

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'detectsearch config set' to fix configuration issues.")
	} else {
		cmd.Println("Configuration is valid.")
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	key := args[0]
	var value string
	switch {
	case len(args) == 2:
		value = args[1]
	case key == "vision.api_key":
		cmd.Print("Vision API key: ")
		value = readSecret(cmd.InOrStdin())
		cmd.Println()
	default:
		return fmt.Errorf("missing value for %s", key)
	}

	if err := settingsService.Set(key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	shown := value
	if key == "vision.api_key" {
		shown = maskAPIKey(value)
	}
	cmd.Printf("Set %s = %s\n", key, shown)
	return nil
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// readSecret reads a line without echo when stdin is a terminal.
//
//nolint:errcheck // CLI helper, error ignored for UX
func readSecret(in io.Reader) string {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return strings.TrimSpace(string(secret))
		}
	}
	// Fallback to regular input
	reader := bufio.NewReader(in)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
