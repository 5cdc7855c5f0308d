// =============================================================================
// Supplier Reconciler - Config Command
// =============================================================================
//
// COMMAND USAGE:
//   reconciler config show                              # effective configuration
//   reconciler config set PROCESSING_LOCATION MASTER    # save both locations
//   reconciler config reset                             # delete the config file
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/supplier-reconciler/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the saved locations",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		fmt.Printf("# %s\n%s", cfgFile, out)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set PROCESSING_LOCATION SUPPLIER_FILE",
	Short: "Save the processing folder and the master workbook location",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		processing, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		supplier, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}

		if info, err := os.Stat(processing); err != nil || !info.IsDir() {
			return fmt.Errorf("processing location %s is not a directory", processing)
		}
		if _, err := os.Stat(supplier); err != nil {
			return fmt.Errorf("supplier file: %w", err)
		}
		if ext := strings.ToLower(filepath.Ext(supplier)); ext != ".xlsx" && ext != ".xlsm" {
			return fmt.Errorf("supplier file must be .xlsx or .xlsm, got %q", ext)
		}

		if err := config.SaveLocations(cfgFile, processing, supplier); err != nil {
			return err
		}
		fmt.Printf("Configuration saved to %s\n", cfgFile)
		return nil
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Reset(cfgFile); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", cfgFile)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configResetCmd)
	rootCmd.AddCommand(configCmd)
}
