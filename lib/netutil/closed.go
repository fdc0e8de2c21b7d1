// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal termination of a
// socket: EOF, use of a closed socket, broken pipe, or connection
// reset. A receive loop that sees one of these after Close stops
// quietly instead of logging.
//
// ECONNREFUSED is included because a UDP socket on Linux reports the
// ICMP port-unreachable for an earlier send on a later read; it means
// one remote peer went away, not that the socket failed.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET || errno == syscall.ECONNREFUSED
	}
	return false
}

// IsClosed reports whether err means the local socket was closed, as
// opposed to a transient per-packet failure.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
