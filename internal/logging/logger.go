// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs the default logger. Level is DEBUG, INFO, WARN or ERROR;
// format is "json" or anything else for text.
func Init(level, format string) *slog.Logger {
	return InitWriter(os.Stdout, level, format)
}

func InitWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("service", "paklaw-assist"),
	}))
	slog.SetDefault(logger)
	return logger
}

func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
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

// NewModuleLogger returns the default logger tagged with module and component.
func NewModuleLogger(module, component string) *slog.Logger {
	return slog.Default().With(
		slog.String("module", module),
		slog.String("component", component),
	)
}
