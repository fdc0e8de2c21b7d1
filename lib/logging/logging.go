// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the process-wide slog.Logger from
// configuration.
//
// Logs go to stderr unless a file is configured, in which case they go
// to a size-rotated file managed by lumberjack. Every component takes
// the resulting *slog.Logger through its constructor and adds its own
// attributes with With; nothing logs through the slog default except
// the command's top level.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/resonance-mesh/resonance/lib/config"
)

// New returns a logger for cfg and a closer that flushes and releases
// the log file. The closer is a no-op when logging to stderr.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var writer io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		writer, closer = rotating, rotating
	}

	logger, err := NewWithWriter(writer, cfg.Format, level)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return logger, closer, nil
}

// NewWithWriter returns a logger writing format ("text" or "json") to
// writer at level.
func NewWithWriter(writer io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	options := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(writer, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(writer, options)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// ParseLevel maps a configuration level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// Discard returns a logger that drops everything. Tests use it where
// log output would only add noise.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
