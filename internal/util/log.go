// Package util holds the small shared pieces of the daemon: the JSON logger,
// a bounded retry helper, and the exchange calendar.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the daemon's JSON logger at the given level ("debug",
// "info", "warn", "error"). An unknown level falls back to info.
func NewLogger(level string) *slog.Logger {
	var slevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slevel = slog.LevelDebug
	case "info":
		slevel = slog.LevelInfo
	case "warn":
		slevel = slog.LevelWarn
	case "error":
		slevel = slog.LevelError
	default:
		slevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slevel,
	})

	return slog.New(handler)
}

// SetDefault installs logger as the process-wide slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
