// =============================================================================
// Supplier Reconciler - Configuration Module
// =============================================================================
//
// This module loads and persists the reconciler configuration.
//
// CONFIGURATION FILE (config.yaml):
//
//   processing_location: /data/suppliers        # root of the folder layout
//   supplier_file_location: /data/master.xlsm   # master workbook
//   log_level: info
//   layout:                                     # optional, see layout.go
//     max_items: 190
//
// FOLDER LAYOUT (under processing_location):
//
//   To_process/                 submissions waiting for the next run
//   Processed/                  merged submissions
//   Processed/Processed_msg/    companion message files of merged submissions
//   Invalid_files/              rejected submissions and their messages
//   Invalid_files/0.Invalid.xlsx  rejection ledger
//   log.txt                     append-only event log
//
// Command-line flags and RECONCILER_* environment variables override the
// file; see cmd/root.go.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
type MainConfig struct {
	// =========================================================================
	// LOCATIONS
	// =========================================================================

	// ProcessingLocation is the root of the intake/processed/invalid folders.
	ProcessingLocation string `yaml:"processing_location"`

	// SupplierFile is the master workbook (.xlsx or .xlsm).
	SupplierFile string `yaml:"supplier_file_location"`

	// Folders names the sub-folders of ProcessingLocation.
	Folders Folders `yaml:"folders"`

	// LedgerFile is the rejection ledger workbook.
	// Default: <processing_location>/Invalid_files/0.Invalid.xlsx
	LedgerFile string `yaml:"ledger_file"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogFile is the append-only event log.
	// Default: <processing_location>/log.txt
	LogFile string `yaml:"log_file"`

	// LogLevel controls console verbosity: "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// =========================================================================
	// FILE TYPES
	// =========================================================================

	// SubmissionExtension selects the files picked up from To_process.
	// Default: ".xlsx"
	SubmissionExtension string `yaml:"submission_extension"`

	// CompanionExtension is the extension of the saved message that travels
	// with each submission.
	// Default: ".msg"
	CompanionExtension string `yaml:"companion_extension"`

	// Layout is the positional schema of submissions and the master workbook.
	Layout Layout `yaml:"layout"`
}

// Folders names the directories under the processing location.
type Folders struct {
	ToProcess    string `yaml:"to_process"`
	Processed    string `yaml:"processed"`
	ProcessedMsg string `yaml:"processed_msg"`
	Invalid      string `yaml:"invalid"`
}

// Overrides carries values from flags and environment variables. Empty
// fields leave the file value untouched.
type Overrides struct {
	ProcessingLocation string
	SupplierFile       string
	LogLevel           string
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// Default returns a configuration with every default applied and no paths.
func Default() *MainConfig {
	cfg := &MainConfig{Layout: DefaultLayout()}
	applyMainConfigDefaults(cfg)
	return cfg
}

// LoadMainConfig loads the main configuration from a YAML file.
//
// A missing file is not an error: the defaults are returned and the two
// locations are expected to come from flags or the environment. Validate
// must be called before the configuration is used.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	config := &MainConfig{Layout: DefaultLayout()}

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		applyMainConfigDefaults(config)
		return config, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal over the defaults: keys missing from the file keep their
	// default values, including inside the layout block.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyMainConfigDefaults(config)
	return config, nil
}

// ApplyOverrides replaces file values with non-empty override values and
// recomputes the derived defaults.
func (c *MainConfig) ApplyOverrides(o Overrides) {
	if o.ProcessingLocation != "" {
		// Paths derived from the old root follow the new one; paths set
		// explicitly in the file are kept.
		if c.ProcessingLocation != "" && c.ProcessingLocation != o.ProcessingLocation {
			if c.LedgerFile == filepath.Join(c.InvalidDir(), "0.Invalid.xlsx") {
				c.LedgerFile = ""
			}
			if c.LogFile == filepath.Join(c.ProcessingLocation, "log.txt") {
				c.LogFile = ""
			}
		}
		c.ProcessingLocation = o.ProcessingLocation
	}
	if o.SupplierFile != "" {
		c.SupplierFile = o.SupplierFile
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	applyMainConfigDefaults(c)
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.Folders.ToProcess == "" {
		config.Folders.ToProcess = "To_process"
	}
	if config.Folders.Processed == "" {
		config.Folders.Processed = "Processed"
	}
	if config.Folders.ProcessedMsg == "" {
		config.Folders.ProcessedMsg = "Processed_msg"
	}
	if config.Folders.Invalid == "" {
		config.Folders.Invalid = "Invalid_files"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.SubmissionExtension == "" {
		config.SubmissionExtension = ".xlsx"
	}
	if config.CompanionExtension == "" {
		config.CompanionExtension = ".msg"
	}
	if config.ProcessingLocation != "" {
		if config.LedgerFile == "" {
			config.LedgerFile = filepath.Join(config.InvalidDir(), "0.Invalid.xlsx")
		}
		if config.LogFile == "" {
			config.LogFile = filepath.Join(config.ProcessingLocation, "log.txt")
		}
	}
}

// Validate checks that both locations exist and that the layout is usable.
// The reconciler refuses to start on a configuration that fails here.
func (c *MainConfig) Validate() error {
	if strings.TrimSpace(c.ProcessingLocation) == "" {
		return fmt.Errorf("processing_location is not set")
	}
	info, err := os.Stat(c.ProcessingLocation)
	if err != nil {
		return fmt.Errorf("processing_location: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("processing_location %s is not a directory", c.ProcessingLocation)
	}

	if strings.TrimSpace(c.SupplierFile) == "" {
		return fmt.Errorf("supplier_file_location is not set")
	}
	info, err = os.Stat(c.SupplierFile)
	if err != nil {
		return fmt.Errorf("supplier_file_location: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("supplier_file_location %s is a directory", c.SupplierFile)
	}
	switch strings.ToLower(filepath.Ext(c.SupplierFile)) {
	case ".xlsx", ".xlsm":
	default:
		return fmt.Errorf("supplier_file_location %s must be an .xlsx or .xlsm workbook", c.SupplierFile)
	}

	if !strings.HasPrefix(c.SubmissionExtension, ".") {
		return fmt.Errorf("submission_extension %q must start with a dot", c.SubmissionExtension)
	}

	return c.Layout.Validate()
}

// =============================================================================
// DERIVED PATHS
// =============================================================================

// ToProcessDir is the intake folder.
func (c *MainConfig) ToProcessDir() string {
	return filepath.Join(c.ProcessingLocation, c.Folders.ToProcess)
}

// ProcessedDir receives merged submissions.
func (c *MainConfig) ProcessedDir() string {
	return filepath.Join(c.ProcessingLocation, c.Folders.Processed)
}

// ProcessedMsgDir receives companion files of merged submissions.
func (c *MainConfig) ProcessedMsgDir() string {
	return filepath.Join(c.ProcessedDir(), c.Folders.ProcessedMsg)
}

// InvalidDir receives rejected submissions together with their companions.
func (c *MainConfig) InvalidDir() string {
	return filepath.Join(c.ProcessingLocation, c.Folders.Invalid)
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// SaveLocations writes the two locations into the config file, keeping every
// other key already present. The file is created when missing.
func SaveLocations(configPath, processingLocation, supplierFile string) error {
	doc := map[string]any{}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if processingLocation != "" {
		doc["processing_location"] = processingLocation
	}
	if supplierFile != "" {
		doc["supplier_file_location"] = supplierFile
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, out, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Reset removes the config file. A missing file is not an error.
func Reset(configPath string) error {
	if err := os.Remove(configPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove config file: %w", err)
	}
	return nil
}
