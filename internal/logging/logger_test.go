package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"info", "info", slog.LevelInfo},
		{"warn", "warn", slog.LevelWarn},
		{"debug", "debug", slog.LevelDebug},
		{"trace", "trace", LevelTrace},
		{"uppercase DEBUG", "DEBUG", slog.LevelDebug},
		{"padded trace", " trace ", LevelTrace},
		{"unknown defaults to info", "verbose", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		logAtDebug bool
		logAtInfo  bool
	}{
		{"warn filters info", "warn", false, false},
		{"info filters debug", "info", false, true},
		{"debug passes debug", "debug", true, true},
		{"trace passes debug", "trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Debug("debug message")
			assert.Equal(t, tt.logAtDebug, bytes.Contains(buf.Bytes(), []byte("debug message")))

			buf.Reset()
			logger.Info("info message")
			assert.Equal(t, tt.logAtInfo, bytes.Contains(buf.Bytes(), []byte("info message")))
		})
	}
}

func TestNewLogger_TraceLabel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("trace", &buf)

	logger.Log(context.Background(), LevelTrace, "genome evaluated", "genome", 7)
	assert.Contains(t, buf.String(), "level=TRACE")
	assert.Contains(t, buf.String(), "genome=7")
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger("info", &buf)

	logger.Info("epoch complete", "epoch", 3, "best_fitness", 3.5)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "epoch complete", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.EqualValues(t, 3, entry["epoch"])
	assert.InDelta(t, 3.5, entry["best_fitness"], 1e-9)
}
