// =============================================================================
// Supplier Reconciler - Process Command
// =============================================================================
//
// This file defines the 'process' command, which runs one reconciliation
// pass over the To_process folder.
//
// COMMAND USAGE:
//   reconciler process [flags]
//
// FLAGS:
//   --dry-run     : Validate and merge in memory; move and save nothing
//
// PROCESSING PIPELINE:
//   1. Load and validate the configuration
//   2. Open the event log (<processing_location>/log.txt)
//   3. Run the reconciler (see internal/reconciler)
//   4. Print a summary
//
// EXIT STATUS:
//   Non-zero when the master workbook is locked, unreadable or could not be
//   saved, or when the run was interrupted. Rejected files are not errors.
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/supplier-reconciler/internal/logging"
	"github.com/ginjaninja78/supplier-reconciler/internal/reconciler"
)

// dryRun validates without moving files or saving workbooks.
var dryRun bool

// processCmd represents the 'process' command.
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Merge waiting supplier forms into the master workbook",
	Long: `The process command takes every .xlsx file in To_process, validates it and
either merges it into the master supplier workbook or rejects it.

On success:
  - The form's marks and fields are written to the rows of its NIP
  - The form (and its .msg) is moved to Processed

On rejection:
  - The form (and its .msg) is moved to Invalid_files
  - The file name, reason and NIP are recorded in Invalid_files/0.Invalid.xlsx

The master workbook must be closed while the command runs.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().BoolVar(
		&dryRun,
		"dry-run",
		false,
		"Validate and report without moving files or saving workbooks",
	)
}

// runProcess loads the configuration and runs one reconciliation pass.
func runProcess(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	events, closer, err := logging.NewEventLogger(consoleConfig(cfg.LogLevel), cfg.LogFile)
	if err != nil {
		events.Warn().Err(err).Str("log_file", cfg.LogFile).Msg("Event log unavailable; logging to console only")
	} else {
		defer closer.Close()
	}

	fmt.Println("=== Supplier Reconciler ===")
	if dryRun {
		fmt.Println("Dry run: nothing will be moved or saved")
	}

	r := reconciler.New(cfg, reconciler.WithDryRun(dryRun), reconciler.WithLogger(&events))
	summary, runErr := r.Run(ctx)
	if summary != nil {
		printSummary(summary, cfg.LedgerFile)
	}
	return runErr
}

// printSummary writes the per-file outcomes and totals to stdout.
func printSummary(s *reconciler.Summary, ledgerFile string) {
	for _, o := range s.Outcomes {
		switch o.Outcome {
		case reconciler.OutcomeMerged:
			line := fmt.Sprintf("  ✓ %s (NIP %s)", o.FileName, o.NIP)
			if o.PreviousFile != "" {
				line += fmt.Sprintf(", replaces %s", o.PreviousFile)
			}
			fmt.Println(line)
		default:
			fmt.Printf("  ✗ %s: %s\n", o.FileName, o.Reason)
		}
		if o.Err != nil {
			fmt.Printf("      %v\n", o.Err)
		}
	}

	fmt.Println("\n=== Processing Complete ===")
	fmt.Printf("Processed:       %d\n", s.Processed)
	fmt.Printf("Invalid:         %d\n", s.Invalid)
	if s.Faults > 0 {
		fmt.Printf("Merge faults:    %d\n", s.Faults)
	}
	fmt.Printf("Overwritten:     %d\n", s.Overwritten)
	fmt.Printf("Time elapsed:    %.2fs\n", s.Elapsed.Seconds())
	if s.LedgerErr != nil {
		fmt.Printf("\nLedger not saved: %v\n", s.LedgerErr)
	} else if s.LedgerEntries > 0 {
		fmt.Printf("Ledger entries:  %d (%s)\n", s.LedgerEntries, filepath.Base(ledgerFile))
	}
}
