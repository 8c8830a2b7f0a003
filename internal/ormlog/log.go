// Package ormlog builds the structured logger shared by ormsyncd and any
// embedding client, following the same JSON/text handler choice the
// teacher's cmd/td-sync wires up in main.
package ormlog

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a *slog.Logger from a format ("json"|"text") and a level
// string ("debug","info","warn","error"). Unknown values fall back to
// text/info, matching the teacher's lenient config parsing style.
func New(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
