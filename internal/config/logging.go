package config

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel parses a level name. Unknown names give info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// NewLogger builds a logger writing to w. A nil level uses c.Level; pass
// a *slog.LevelVar to change the level later.
func (c LogConfig) NewLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	if level == nil {
		level = ParseLevel(c.Level)
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
