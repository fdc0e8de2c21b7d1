// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"closed", net.ErrClosed, true},
		{"wrapped closed", fmt.Errorf("read: %w", net.ErrClosed), true},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("recvfrom", syscall.ECONNRESET)}, true},
		{"refused", &net.OpError{Op: "read", Err: os.NewSyscallError("recvfrom", syscall.ECONNREFUSED)}, true},
		{"pipe", syscall.EPIPE, true},
		{"other errno", syscall.EACCES, false},
		{"plain", errors.New("boom"), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsExpectedCloseError(test.err); got != test.want {
				t.Errorf("IsExpectedCloseError(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}

func TestIsClosed(t *testing.T) {
	if !IsClosed(fmt.Errorf("wrap: %w", net.ErrClosed)) {
		t.Error("wrapped net.ErrClosed not reported closed")
	}
	if IsClosed(syscall.ECONNREFUSED) {
		t.Error("ECONNREFUSED reported as closed socket")
	}
}
