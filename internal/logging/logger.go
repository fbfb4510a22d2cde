// Package logging builds the leveled slog loggers used by the neatevolve command and
// defines the trace level the engine logs per-genome results at.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// LevelTrace is a custom slog level below Debug for per-genome output, such as the
// fitness of every evaluated genome.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "warn", "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled text logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, handlerOptions(level)))
}

// NewJSONLogger creates a leveled logger writing one JSON object per line to w.
func NewJSONLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, handlerOptions(level)))
}

func handlerOptions(level string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
}
