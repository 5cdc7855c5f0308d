// =============================================================================
// Supplier Reconciler - Stage Command
// =============================================================================
//
// This file defines the 'stage' command, which routes the saved attachments
// of one mail message into To_process or Invalid_files.
//
// COMMAND USAGE:
//   reconciler stage --sender NAME [--received TIME] [--companion FILE.msg] FILE...
//
// --received accepts "2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"
// or RFC 3339. It defaults to now.
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/supplier-reconciler/internal/intake"
	"github.com/ginjaninja78/supplier-reconciler/internal/ledger"
	"github.com/ginjaninja78/supplier-reconciler/internal/logging"
)

var (
	stageSender    string
	stageReceived  string
	stageCompanion string
)

// stageCmd represents the 'stage' command.
var stageCmd = &cobra.Command{
	Use:   "stage FILE...",
	Short: "Stage the attachments of one mail message",
	Long: `The stage command routes the saved attachments of one mail message.

  - One supplier form: moved to To_process as <supplier>_cat_<dd-mm-yyyy>.xlsx
  - Several forms:     moved to Invalid_files as <sender>_multiple.xlsx and
                       recorded in the ledger
  - Other files:       left in place`,

	Args: cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(args)
	},
}

func init() {
	rootCmd.AddCommand(stageCmd)

	stageCmd.Flags().StringVar(&stageSender, "sender", "", "Display name of the message sender")
	stageCmd.Flags().StringVar(&stageReceived, "received", "", "When the message was received (default now)")
	stageCmd.Flags().StringVar(&stageCompanion, "companion", "", "Saved message file to move with the attachments")
}

func runStage(attachments []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.ProcessingLocation) == "" {
		return fmt.Errorf("processing_location is not set")
	}
	if _, err := os.Stat(cfg.ProcessingLocation); err != nil {
		return fmt.Errorf("processing_location: %w", err)
	}

	received := time.Now()
	if stageReceived != "" {
		received, err = parseReceived(stageReceived)
		if err != nil {
			return err
		}
	}

	events, closer, err := logging.NewEventLogger(consoleConfig(cfg.LogLevel), cfg.LogFile)
	if err != nil {
		events.Warn().Err(err).Str("log_file", cfg.LogFile).Msg("Event log unavailable; logging to console only")
	} else {
		defer closer.Close()
	}

	l := ledger.New(cfg.LedgerFile)
	stager := intake.NewStager(cfg, l, events)

	res, err := stager.Stage(intake.Message{
		Sender:      stageSender,
		Received:    received,
		Attachments: attachments,
		Companion:   stageCompanion,
	})

	for _, p := range res.Staged {
		fmt.Printf("  ✓ Moved to To_process: %s\n", filepath.Base(p))
	}
	for _, p := range res.Invalid {
		fmt.Printf("  ⚠ Moved to Invalid_files: %s\n", filepath.Base(p))
	}
	for _, p := range res.Ignored {
		fmt.Printf("  - Ignored: %s\n", filepath.Base(p))
	}

	// Rejections recorded before a failed move are still persisted.
	if _, perr := l.Persist(); perr != nil {
		events.Error().Err(perr).Str("ledger", cfg.LedgerFile).Msg("Error saving the invalid files ledger")
		if err == nil {
			err = perr
		}
	}
	return err
}

// parseReceived accepts the layouts listed in the command help.
func parseReceived(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --received value %q", s)
}
