package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the JSON logger shared by the server and the consumer.
func NewLogger(level string) *slog.Logger {
	return NewLoggerTo(os.Stdout, level, "washer-matching")
}

// NewLoggerTo writes JSON records to w, tagging every record with the component name.
func NewLoggerTo(w io.Writer, level, component string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	l := slog.New(slog.NewJSONHandler(w, opts))
	if component != "" {
		l = l.With("component", component)
	}
	return l
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
