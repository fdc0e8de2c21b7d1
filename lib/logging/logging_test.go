// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/resonance-mesh/resonance/lib/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, test := range tests {
		got, err := ParseLevel(test.name)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", test.name, err)
		}
		if got != test.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", test.name, got, test.want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel accepted an unknown level")
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var output bytes.Buffer
	logger, err := NewWithWriter(&output, "json", slog.LevelInfo)
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}
	logger.Debug("dropped")
	logger.Info("peer joined", "peer", "abcd1234")

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), output.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if record["msg"] != "peer joined" || record["peer"] != "abcd1234" {
		t.Errorf("record = %v", record)
	}
}

func TestNewWithWriter_UnknownFormat(t *testing.T) {
	if _, err := NewWithWriter(&bytes.Buffer{}, "xml", slog.LevelInfo); err == nil {
		t.Error("NewWithWriter accepted format xml")
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	logger, closer, err := New(config.LogConfig{
		Level:      "info",
		Format:     "text",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("gossip round", "peers", 3)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "gossip round") {
		t.Errorf("log file = %q", data)
	}
}
