package core

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a structured logger writing to stderr from cfg.
//
// Level is one of debug, info, warn or error (default info); Format json
// selects the JSON handler, anything else the text handler.
func NewLogger(cfg LogConfig) *slog.Logger {
	return NewLoggerWithWriter(os.Stderr, cfg)
}

// NewLoggerWithWriter is NewLogger with an explicit destination.
func NewLoggerWithWriter(w io.Writer, cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
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
