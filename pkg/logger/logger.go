// Package logger builds the process-wide structured logger.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	AddSource bool
	Level     string
	// Writer defaults to stdout.
	Writer io.Writer
}

// New builds a JSON logger and installs it as the slog default.
// An unknown level falls back to info and is reported alongside a usable logger.
func New(opt *Options) (*slog.Logger, error) {
	if opt == nil {
		return nil, errors.New("logger options are required")
	}

	level, err := ParseLevel(opt.Level)

	w := opt.Writer
	if w == nil {
		w = os.Stdout
	}

	log := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: opt.AddSource,
		Level:     level,
	}))
	slog.SetDefault(log)

	return log, err
}

// ParseLevel converts a string level to slog.Level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", level)
	}
}
