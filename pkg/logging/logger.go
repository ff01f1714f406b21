// Package logging builds the slog.Logger used by the app lifecycle, the
// pipeline and the Postgres layer. The ClickHouse/Redis infra layer, the
// migration manager and the HTTP
// transport stack thread a separate logrus.Logger instead (see app.New) —
// two logging idioms inherited from two different subsystems, kept apart
// rather than unified.
package logging

import (
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// ParseLevel converts a config/env log level string to slog.Level, falling
// back to Info on anything unrecognized rather than rejecting startup over
// a typo.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLoggerWithFormat builds a logger for the requested format. "text" gets
// a colorized tint handler (colors auto-disabled when stderr isn't a TTY,
// so piped/CI output stays plain); anything else, including an empty
// string, gets JSON.
func NewLoggerWithFormat(level slog.Level, format string) *slog.Logger {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "[15:04:05]",
			NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
		}))
	default:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
}
