package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"chatty":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(&Config{Level: "warn", Format: "json", Output: buf})

	logger.Info().Msg("hidden")
	logger.Warn().Str("file", "A.xlsx").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"file":"A.xlsx"`)
	assert.Contains(t, out, `"message":"shown"`)
}

func TestNewConsole(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(&Config{Level: "info", Format: "console", NoColor: true, Output: buf})

	logger.Info().Str("outcome", "merged").Msg("File processed")
	assert.Contains(t, buf.String(), "outcome=merged")
}

func TestNewEventLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("earlier run\n"), 0644))

	console := &bytes.Buffer{}
	logger, closer, err := NewEventLogger(&Config{Level: "warn", Format: "json", Output: console}, path)
	require.NoError(t, err)

	logger.Debug().Msg("debug line")
	logger.Info().Str("outcome", "merged").Msg("info line")
	logger.Warn().Msg("warn line")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	file := string(data)

	assert.True(t, strings.HasPrefix(file, "earlier run\n"), "file is appended to")
	assert.Contains(t, file, "info line")
	assert.Contains(t, file, "outcome=merged")
	assert.Contains(t, file, "warn line")
	assert.NotContains(t, file, "debug line")
	assert.NotContains(t, file, "\x1b[", "no colour codes in the file")

	assert.NotContains(t, console.String(), "info line")
	assert.Contains(t, console.String(), "warn line")
}

func TestNewEventLoggerBadPath(t *testing.T) {
	_, closer, err := NewEventLogger(&Config{Output: &bytes.Buffer{}}, filepath.Join(t.TempDir(), "missing", "log.txt"))
	assert.Error(t, err)
	assert.Nil(t, closer)
}

func TestContextLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(&Config{Format: "json", Output: buf})

	ctx := WithLogger(context.Background(), &logger)
	FromContext(ctx).Info().Msg("from context")
	assert.Contains(t, buf.String(), "from context")

	assert.Same(t, Default(), FromContext(context.Background()))
	assert.Same(t, Default(), FromContext(WithLogger(context.Background(), nil)))
}
