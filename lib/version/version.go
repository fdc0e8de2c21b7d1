// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// Protocol is the wire protocol version. Bump it on any change to the
// handshake transcript, key schedule, or envelope layout.
const Protocol uint8 = 1

// These variables are set via -ldflags at build time.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Info returns a formatted version string for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s, protocol %d)", Version, GitCommit, dirty, BuildTime, Protocol)
}

// Full returns Info plus the Go toolchain and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
