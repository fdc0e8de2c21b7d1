// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Handshake.Timeout != 10*time.Second {
		t.Errorf("handshake.timeout = %v, want 10s", cfg.Handshake.Timeout)
	}
	if cfg.Handshake.MaxAttempts != 3 {
		t.Errorf("handshake.max_attempts = %d, want 3", cfg.Handshake.MaxAttempts)
	}
	if cfg.Channel.ReplayWindow != 0 {
		t.Errorf("channel.replay_window = %d, want 0 (strict order)", cfg.Channel.ReplayWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestLoad_RequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when RESONANCE_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "RESONANCE_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestLoad_WithEnvironmentVariable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "resonance.yaml")
	configContent := `
display_name: alice
listen_address: 127.0.0.1:9000
handshake:
  timeout: 3s
gossip:
  interval: 1s
  peer_timeout: 4s
ice_servers:
  - urls: ["turn:turn.example.net:3478"]
    username: alice
    credential: hunter2
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(EnvironmentVariable, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DisplayName != "alice" {
		t.Errorf("display_name = %q, want alice", cfg.DisplayName)
	}
	if cfg.Handshake.Timeout != 3*time.Second {
		t.Errorf("handshake.timeout = %v, want 3s", cfg.Handshake.Timeout)
	}
	// Unset keys keep defaults.
	if cfg.Handshake.MaxAttempts != 3 {
		t.Errorf("handshake.max_attempts = %d, want default 3", cfg.Handshake.MaxAttempts)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].Username != "alice" {
		t.Errorf("ice_servers = %+v", cfg.ICEServers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if cfg.Gossip.Interval != Default().Gossip.Interval {
		t.Errorf("empty document did not yield defaults")
	}
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("handshake:\n  timout: 5s\n"))
	if err == nil {
		t.Fatal("misspelled key accepted")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFile on a missing file succeeded")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("RESONANCE_TEST_DIR", "/var/tmp/resonance")

	tests := []struct {
		input string
		want  string
	}{
		{"${HOME}/logs/node.log", "/home/tester/logs/node.log"},
		{"${RESONANCE_TEST_DIR}/node.log", "/var/tmp/resonance/node.log"},
		{"${RESONANCE_UNSET_VARIABLE:-/fallback}/node.log", "/fallback/node.log"},
		{"/plain/path.log", "/plain/path.log"},
	}
	vars := map[string]string{"HOME": "/home/tester"}
	for _, test := range tests {
		if got := expandVars(test.input, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty display name", func(c *Config) { c.DisplayName = "" }, "display_name"},
		{"bad listen address", func(c *Config) { c.ListenAddress = "nowhere" }, "listen_address"},
		{"bad advertise address", func(c *Config) { c.AdvertiseAddress = "host-only" }, "advertise_address"},
		{"ice server without urls", func(c *Config) { c.ICEServers = []ICEServer{{}} }, "ice_servers[0]"},
		{"zero handshake timeout", func(c *Config) { c.Handshake.Timeout = 0 }, "handshake.timeout"},
		{"too many attempts", func(c *Config) { c.Handshake.MaxAttempts = 50 }, "handshake.max_attempts"},
		{"peer timeout below interval", func(c *Config) { c.Gossip.PeerTimeout = c.Gossip.Interval }, "gossip.peer_timeout"},
		{"negative replay window", func(c *Config) { c.Channel.ReplayWindow = -1 }, "channel.replay_window"},
		{"negative suspect hold", func(c *Config) { c.Gossip.SuspectHold = -time.Second }, "gossip.suspect_hold"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate succeeded")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("error %q does not mention %q", err.Error(), test.want)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.DisplayName = ""
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate succeeded")
	}
	for _, want := range []string{"display_name", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err.Error(), want)
		}
	}
}
