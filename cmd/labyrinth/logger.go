package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger builds the process logger. Text output goes through
// charmbracelet/log; json uses the standard slog handler.
func newLogger(level, format string) (*slog.Logger, error) {
	switch strings.ToLower(format) {
	case "", "text":
		lvl, err := log.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		h := log.NewWithOptions(os.Stderr, log.Options{
			Level:           lvl,
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
		})
		return slog.New(h), nil
	case "json":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
