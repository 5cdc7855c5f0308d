// Package logging sets up zerolog for the reconciler: a console logger for
// the operator and an append-only event log file next to the processed data.
//
// Example usage:
//
//	logger := logging.New(&logging.Config{Level: "debug"})
//	logging.SetDefault(logger)
//
//	events, closer, err := logging.NewEventLogger(&logging.Config{Level: "info"}, "/data/log.txt")
//	defer closer.Close()
//	events.Info().Str("file", "A.xlsx").Str("outcome", "merged").Msg("File processed")
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventTimeFormat is the timestamp layout of event log lines.
const EventTimeFormat = "2006-01-02 15:04:05"

var defaultLogger = New(DefaultConfig())

// Config holds logger configuration options.
type Config struct {
	// Level is the minimum log level to output.
	Level string

	// Format is "console" or "json". "auto" picks console on a terminal.
	Format string

	// NoColor disables color output in console mode.
	NoColor bool

	// Output defaults to stderr.
	Output io.Writer
}

// DefaultConfig returns the configuration used before flags are parsed.
func DefaultConfig() *Config {
	return &Config{
		Level:   getEnvOrDefault("LOG_LEVEL", "info"),
		Format:  getEnvOrDefault("LOG_FORMAT", "auto"),
		NoColor: os.Getenv("NO_COLOR") != "",
	}
}

// New creates a logger from configuration.
func New(cfg *Config) zerolog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return zerolog.New(cfg.writer()).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// writer returns the console destination for cfg.
func (cfg *Config) writer() io.Writer {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	format := strings.ToLower(cfg.Format)
	if format == "" || format == "auto" {
		format = "json"
		if out == io.Writer(os.Stderr) && isatty() {
			format = "console"
		}
	}

	if format == "console" || format == "pretty" {
		return zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
			NoColor:    cfg.NoColor,
		}
	}
	return out
}

// NewEventLogger returns a logger that writes to the console configured by
// cfg and appends every event of info level and above, uncoloured and one
// line each, to the file at path. The returned Closer closes the file.
func NewEventLogger(cfg *Config, path string) (zerolog.Logger, io.Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return New(cfg), nil, err
	}

	consoleLevel := ParseLevel(cfg.Level)
	fileWriter := zerolog.ConsoleWriter{
		Out:        file,
		TimeFormat: EventTimeFormat,
		NoColor:    true,
	}
	multi := zerolog.MultiLevelWriter(
		levelFilter{w: cfg.writer(), min: consoleLevel},
		levelFilter{w: fileWriter, min: zerolog.InfoLevel},
	)

	logger := zerolog.New(multi).
		Level(min(consoleLevel, zerolog.InfoLevel)).
		With().
		Timestamp().
		Logger()
	return logger, file, nil
}

// levelFilter drops events below min.
type levelFilter struct {
	w   io.Writer
	min zerolog.Level
}

func (f levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < f.min {
		return len(p), nil
	}
	return f.w.Write(p)
}

// ParseLevel parses a log level string. Unknown values mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return zerolog.WarnLevel
	case "off", "none":
		return zerolog.Disabled
	}
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && l != zerolog.NoLevel {
		return l
	}
	return zerolog.InfoLevel
}

// Default returns the default global logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// SetDefault sets the default global logger.
func SetDefault(logger zerolog.Logger) {
	defaultLogger = logger
	log.Logger = logger
}

// =============================================================================
// CONTEXT
// =============================================================================

type contextKey int

const loggerKey contextKey = iota

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}

// isatty checks if stderr is a terminal.
func isatty() bool {
	fileInfo, err := os.Stderr.Stat()
	return err == nil && fileInfo.Mode()&os.ModeCharDevice != 0
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
