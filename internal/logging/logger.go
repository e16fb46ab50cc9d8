package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process-wide JSON logger. Every line carries a
// service attribute so dispatch logs can be told apart from the other
// services feeding the same sink.
func NewLogger(level string) *slog.Logger {
	return New(os.Stdout, level, "ride-dispatch")
}

// New builds a JSON logger writing to w. Split out from NewLogger so tests
// can capture output.
func New(w io.Writer, level, service string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	logger := slog.New(slog.NewJSONHandler(w, opts))
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
