// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies socket errors seen while tearing down a
// node's transport.
package netutil
