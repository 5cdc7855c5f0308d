// =============================================================================
// Supplier Reconciler - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every other command
// is attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (reconciler)
//   ├── processCmd (reconciler process)
//   ├── stageCmd   (reconciler stage)
//   ├── ledgerCmd  (reconciler ledger show)
//   ├── configCmd  (reconciler config show|set|reset)
//   └── versionCmd (reconciler version)
//
// CONFIGURATION PRECEDENCE (highest first):
//   1. Flags: --processing-location, --supplier-file, --log-level
//   2. Environment: RECONCILER_PROCESSING_LOCATION, RECONCILER_SUPPLIER_FILE,
//      RECONCILER_LOG_LEVEL (also read from .env and .env.local)
//   3. The config file (--config, default config.yaml)
//   4. Built-in defaults
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ginjaninja78/supplier-reconciler/internal/config"
	"github.com/ginjaninja78/supplier-reconciler/internal/logging"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// v resolves flag and environment overrides.
var v = viper.New()

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Supplier Reconciler - merge supplier category forms into the master workbook",
	Long: `Supplier Reconciler drains a folder of supplier category forms, validates
each one and merges the accepted ones into the master supplier workbook,
keyed by NIP. Rejected forms are moved aside and recorded in a ledger.

Example Usage:
  reconciler process                          # Run one reconciliation pass
  reconciler process --dry-run                # Validate and report, change nothing
  reconciler stage --sender "Acme" form.xlsx  # Stage a saved mail attachment
  reconciler ledger show                      # List rejected submissions`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.SetDefault(logging.New(consoleConfig(v.GetString("log-level"))))
		return nil
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main(). SIGINT and
// SIGTERM cancel the command's context.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "config.yaml", "Path to the main configuration file")
	flags.String("processing-location", "", "Root of the To_process/Processed/Invalid_files folders")
	flags.String("supplier-file", "", "Path to the master supplier workbook (.xlsx or .xlsm)")
	flags.String("log-level", "", "Console log level: debug, info, warn, error")

	for _, name := range []string{"processing-location", "supplier-file", "log-level"} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("Failed to bind %s flag: %v", name, err))
		}
	}
}

// initConfig loads .env files and sets up environment variable handling.
func initConfig() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}

	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// loadConfig reads the config file and applies flag and environment
// overrides. The result is not validated.
func loadConfig() (*config.MainConfig, error) {
	cfg, err := config.LoadMainConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config: %w", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		ProcessingLocation: v.GetString("processing-location"),
		SupplierFile:       v.GetString("supplier-file"),
		LogLevel:           v.GetString("log-level"),
	})
	return cfg, nil
}

// consoleConfig returns the console logger settings for level. An empty
// level falls back to LOG_LEVEL and then to info.
func consoleConfig(level string) *logging.Config {
	lc := logging.DefaultConfig()
	if level != "" {
		lc.Level = level
	}
	return lc
}
