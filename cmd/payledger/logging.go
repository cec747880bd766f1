package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/xraph/payledger"
)

// newLogger builds the process logger from the log section of the config.
func newLogger(cfg payledger.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("payledger: log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("payledger: log.format: unknown format %q", cfg.Format)
	}
	return slog.New(h).With("service", "payledger"), nil
}
