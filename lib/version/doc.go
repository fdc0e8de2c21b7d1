// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build and wire protocol version information.
//
// Build variables are injected via -ldflags -X and default to
// "unknown" / "0.1.0-dev" in development builds and tests:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string
//
// [Protocol] is the handshake protocol version carried in every hello
// message. Peers that disagree on it refuse to establish a session.
package version
