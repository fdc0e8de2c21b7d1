// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrHandshakeAuthFailure means a tag or bound key did not verify.
	// No session key was produced and the run is not retried.
	ErrHandshakeAuthFailure = errors.New("handshake authentication failure")

	// ErrHandshakeTimeout means no HelloAck arrived within the attempt
	// timeout on any attempt.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrVersionMismatch means the remote peer speaks a different
	// protocol version.
	ErrVersionMismatch = errors.New("handshake protocol version mismatch")

	// ErrClosed is returned for runs interrupted by Engine.Close.
	ErrClosed = errors.New("handshake engine closed")
)

// Failure describes a handshake that failed on the responder side, or
// a malformed or forged frame. The engine reports these through
// Config.Alert because nobody is waiting on the responder side.
type Failure struct {
	Address netip.AddrPort
	Err     error
}

func (f Failure) Error() string {
	return fmt.Sprintf("handshake with %s: %v", f.Address, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }
