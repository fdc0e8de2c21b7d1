// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for a Resonance
// node.
//
// Configuration is loaded from a single file named by either the
// RESONANCE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). A node started with neither runs on [Default]. No
// other environment variables override config values.
//
// The file supplies what the core consumes from its configuration
// collaborator (display name, NAT traversal servers) plus the bounded
// timing parameters the protocol leaves open: handshake timeout and
// attempt count, gossip interval and peer timeout, link and join
// request lifetimes, and the secure channel's replay window and failure
// threshold. Durations use Go syntax ("10s", "2m").
//
// ${HOME} and ${VAR:-default} patterns are expanded in the log file
// path after loading.
package config
