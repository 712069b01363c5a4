// Package logging builds the structured loggers used by the cgemflow command.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
)

// Formats and levels accepted by New.
var (
	Formats = []string{"text", "json"}
	Levels  = []string{"debug", "info", "warn", "error"}
)

// ParseLevel converts a level name to a slog level. The empty string is info.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("invalid log-level %q: must be one of %s", levelStr, strings.Join(Levels, ", "))
	}
}

// New creates a logger writing to outW. It does not set the global logger.
func New(levelStr, formatStr string, outW io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler

	switch strings.ToLower(formatStr) {
	case "", "text":
		handler = slog.NewTextHandler(outW, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(outW, handlerOpts)
	default:
		return nil, errors.Errorf("invalid log-format %q: must be one of %s", formatStr, strings.Join(Formats, ", "))
	}

	return slog.New(handler), nil
}
