package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/supplier-reconciler/internal/ledger"
)

// ledgerCmd groups the ledger subcommands.
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the rejection ledger",
}

// ledgerShowCmd prints the ledger, newest first.
var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List rejected submissions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.LedgerFile == "" {
			return fmt.Errorf("processing_location is not set")
		}

		entries, err := ledger.Load(cfg.LedgerFile)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No rejected submissions.")
			return nil
		}

		table := tablewriter.NewTable(os.Stdout)
		headers := make([]any, len(ledger.Header))
		for i, h := range ledger.Header {
			headers[i] = h
		}
		table.Header(headers...)

		for _, e := range ledger.Dedup(entries) {
			ts := ""
			if !e.Timestamp.IsZero() {
				ts = e.Timestamp.Format(ledger.TimestampLayout)
			}
			if err := table.Append(e.FileName, string(e.Reason), e.NIP, e.Source, ts); err != nil {
				return err
			}
		}
		return table.Render()
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerShowCmd)
	rootCmd.AddCommand(ledgerCmd)
}
