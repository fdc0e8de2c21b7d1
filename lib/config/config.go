// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file for [Load].
const EnvironmentVariable = "RESONANCE_CONFIG"

// Config is the complete node configuration.
type Config struct {
	// DisplayName is shown to other members next to this peer's ID.
	DisplayName string `yaml:"display_name"`

	// ListenAddress is the UDP address the node binds.
	ListenAddress string `yaml:"listen_address"`

	// AdvertiseAddress is the address embedded in join links and
	// gossiped to other members. Empty means the bound address, which
	// is only useful when ListenAddress names a concrete interface.
	AdvertiseAddress string `yaml:"advertise_address"`

	// ICEServers are handed to the media negotiator unchanged.
	ICEServers []ICEServer `yaml:"ice_servers"`

	Handshake HandshakeConfig `yaml:"handshake"`
	Gossip    GossipConfig    `yaml:"gossip"`
	Links     LinksConfig     `yaml:"links"`
	Room      RoomConfig      `yaml:"room"`
	Channel   ChannelConfig   `yaml:"channel"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ICEServer is one STUN or TURN server.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// HandshakeConfig bounds one handshake run.
type HandshakeConfig struct {
	// Timeout is how long an initiator waits for HelloAck per attempt.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts is the number of attempts before a timeout is
	// surfaced. Authentication failures are never retried.
	MaxAttempts int `yaml:"max_attempts"`
}

// GossipConfig drives membership reconciliation and failure detection.
type GossipConfig struct {
	Interval time.Duration `yaml:"interval"`

	// PeerTimeout removes a member that has sent nothing for this long.
	// Must exceed Interval, since gossip is the keepalive.
	PeerTimeout time.Duration `yaml:"peer_timeout"`

	// SuspectHold is how long a member removed by local failure
	// detection stays out of gossiped views while it is redialed.
	// Such removals are never gossiped. Zero uses twice PeerTimeout.
	SuspectHold time.Duration `yaml:"suspect_hold"`
}

// LinksConfig controls issued join links.
type LinksConfig struct {
	TTL time.Duration `yaml:"ttl"`

	// MaxOutstanding caps issued-but-unused links per node.
	MaxOutstanding int `yaml:"max_outstanding"`
}

// RoomConfig controls the room state machine.
type RoomConfig struct {
	// JoinRequestTTL times out undecided join requests.
	JoinRequestTTL time.Duration `yaml:"join_request_ttl"`
}

// ChannelConfig controls each secure channel.
type ChannelConfig struct {
	// ReplayWindow is the number of sequence numbers below the highest
	// accepted one that may still arrive late. Zero enforces strictly
	// increasing delivery.
	ReplayWindow int `yaml:"replay_window"`

	// SendRetries bounds retries of a transport send error.
	SendRetries int `yaml:"send_retries"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// File, when set, sends logs to a size-rotated file instead of
	// stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Address serves /metrics when non-empty.
	Address string `yaml:"address"`
}

// Default returns the configuration a node runs with when no file is
// given.
func Default() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "resonance"
	}
	return &Config{
		DisplayName:   hostname,
		ListenAddress: "0.0.0.0:7700",
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		Handshake: HandshakeConfig{
			Timeout:     10 * time.Second,
			MaxAttempts: 3,
		},
		Gossip: GossipConfig{
			Interval:    5 * time.Second,
			PeerTimeout: 30 * time.Second,
			SuspectHold: time.Minute,
		},
		Links: LinksConfig{
			TTL:            10 * time.Minute,
			MaxOutstanding: 64,
		},
		Room: RoomConfig{
			JoinRequestTTL: 2 * time.Minute,
		},
		Channel: ChannelConfig{
			ReplayWindow: 0,
			SendRetries:  3,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from the file named by RESONANCE_CONFIG.
// There is no fallback: if the variable is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your resonance.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, layered over [Default].
// Keys absent from the file keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration over [Default] and expands
// variables. Unknown keys are an error so a misspelled timing
// parameter does not silently fall back to its default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	// An empty file decodes to io.EOF and means "all defaults".
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// path-valued fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Log.File = expandVars(c.Log.File, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.DisplayName == "" {
		errs = append(errs, errors.New("display_name is required"))
	}
	if _, err := netip.ParseAddrPort(c.ListenAddress); err != nil {
		errs = append(errs, fmt.Errorf("listen_address: %w", err))
	}
	if c.AdvertiseAddress != "" {
		if _, err := netip.ParseAddrPort(c.AdvertiseAddress); err != nil {
			errs = append(errs, fmt.Errorf("advertise_address: %w", err))
		}
	}
	for index, server := range c.ICEServers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice_servers[%d]: urls is required", index))
		}
	}

	if c.Handshake.Timeout <= 0 {
		errs = append(errs, errors.New("handshake.timeout must be positive"))
	}
	if c.Handshake.MaxAttempts < 1 || c.Handshake.MaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("handshake.max_attempts must be between 1 and 10, got %d", c.Handshake.MaxAttempts))
	}
	if c.Gossip.Interval <= 0 {
		errs = append(errs, errors.New("gossip.interval must be positive"))
	}
	if c.Gossip.PeerTimeout <= c.Gossip.Interval {
		errs = append(errs, fmt.Errorf("gossip.peer_timeout (%v) must exceed gossip.interval (%v)", c.Gossip.PeerTimeout, c.Gossip.Interval))
	}
	if c.Gossip.SuspectHold < 0 {
		errs = append(errs, errors.New("gossip.suspect_hold must not be negative"))
	}
	if c.Links.TTL <= 0 {
		errs = append(errs, errors.New("links.ttl must be positive"))
	}
	if c.Links.MaxOutstanding < 1 {
		errs = append(errs, errors.New("links.max_outstanding must be at least 1"))
	}
	if c.Room.JoinRequestTTL <= 0 {
		errs = append(errs, errors.New("room.join_request_ttl must be positive"))
	}
	if c.Channel.ReplayWindow < 0 || c.Channel.ReplayWindow > 1024 {
		errs = append(errs, fmt.Errorf("channel.replay_window must be between 0 and 1024, got %d", c.Channel.ReplayWindow))
	}
	if c.Channel.SendRetries < 0 {
		errs = append(errs, errors.New("channel.send_retries must not be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json; got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
