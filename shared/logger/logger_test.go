package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	cfg.writer = output
	logger, err := New(&cfg)
	require.NoError(t, err)
	return logger, output
}

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_JSONLevels(t *testing.T) {
	tests := []struct {
		level     string
		wantLevel string
	}{
		{level: "debug", wantLevel: "DEBUG"},
		{level: "info", wantLevel: "INFO"},
		{level: "warn", wantLevel: "WARN"},
		{level: "error", wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, output := newBuffered(t, Config{Level: tt.level, Format: "json"})

			logger.Debug("broadcast started")
			logger.Info("offers created")
			logger.Warn("relay queue full")
			logger.Error("publish failed", slog.String("job_id", "job-1"))

			entries := decodeLines(t, output)
			require.NotEmpty(t, entries)
			assert.Equal(t, tt.wantLevel, entries[0]["level"], "records below the level are dropped")
			assert.Equal(t, "job-1", entries[len(entries)-1]["job_id"])
		})
	}
}

func TestNew_ConsoleNoColor(t *testing.T) {
	logger, output := newBuffered(t, Config{Level: "info", Format: "console", NoColor: true})

	logger.Info("offer accepted", slog.String("provider_id", "p-b"))

	// tint abbreviates levels
	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "offer accepted")
	assert.Contains(t, output.String(), "provider_id=p-b")
	assert.NotContains(t, output.String(), "\x1b[")
}

func TestNew_Source(t *testing.T) {
	logger, output := newBuffered(t, Config{Level: "info", Format: "json", EnableSource: true})

	logger.Info("job expired")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.log")

	logger, err := New(&Config{
		Level:  "info",
		Format: "json",
		Output: path,
	})
	require.NoError(t, err)

	logger.Info("offer expired", slog.String("job_id", "job-1"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(data, &logEntry))
	assert.Equal(t, "offer expired", logEntry["msg"])
	assert.Equal(t, "job-1", logEntry["job_id"])
}

func TestNew_FileOutputUnwritable(t *testing.T) {
	_, err := New(&Config{
		Format: "json",
		Output: filepath.Join(t.TempDir(), "missing", "dir", "dispatch.log"),
	})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_With(t *testing.T) {
	logger, output := newBuffered(t, Config{Level: "info", Format: "json"})

	logger.With(slog.String("service", "quickbook-worker-service")).Info("worker started", slog.Int("concurrency", 4))

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "quickbook-worker-service", entries[0]["service"])
	assert.Equal(t, float64(4), entries[0]["concurrency"])
}
