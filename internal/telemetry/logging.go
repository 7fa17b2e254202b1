// Package telemetry sets up structured logging for the actionqueue command.
package telemetry

import (
	"io"
	"log/slog"
	"strings"
)

// Format names accepted by NewLogger.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ParseLevel maps DEBUG, INFO, WARN and ERROR (any case) to a slog level. Anything else is INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w. Text format is used only when format is "text".
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(format, FormatText) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// Setup builds a logger with NewLogger and installs it as the slog default.
func Setup(w io.Writer, level, format string) *slog.Logger {
	logger := NewLogger(w, level, format)
	slog.SetDefault(logger)

	return logger
}
