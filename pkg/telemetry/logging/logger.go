package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"mercator-hq/warden/pkg/config"
)

// LogFormat represents the output format for logs.
type LogFormat string

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON LogFormat = "json"
	// FormatText outputs logs in key=value text format.
	FormatText LogFormat = "text"
)

// New creates a logger from cfg writing to w (stderr if nil). Sensitive
// attributes are redacted before they reach the handler.
func New(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}
	if w == nil {
		w = os.Stderr
	}

	redactor := NewRedactor()
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactor.ReplaceAttr,
	}

	var handler slog.Handler
	switch format {
	case FormatText:
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler), nil
}

// Setup creates the logger and installs it as the slog default.
func Setup(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	logger, err := New(cfg, w)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// ParseLevel parses a log level name.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

func parseFormat(formatStr string) (LogFormat, error) {
	switch strings.ToLower(formatStr) {
	case "json", "":
		return FormatJSON, nil
	case "text":
		return FormatText, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format: %s", formatStr)
	}
}
