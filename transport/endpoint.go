// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/resonance-mesh/resonance/lib/netutil"
	"github.com/resonance-mesh/resonance/protocol"
)

// ErrTransport wraps every failure to put a datagram on the wire.
var ErrTransport = errors.New("transport error")

// Handler receives one inbound datagram. The payload is owned by the
// handler.
type Handler func(from netip.AddrPort, payload []byte)

// Endpoint sends and receives datagrams on one local address.
type Endpoint struct {
	conn   net.PacketConn
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewEndpoint wraps conn. The endpoint owns conn from here on.
func NewEndpoint(conn net.PacketConn, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := &Endpoint{conn: conn}
	endpoint.logger = logger.With("component", "transport", "local", endpoint.LocalAddress())
	return endpoint
}

// ListenUDP binds a UDP socket on address ("host:port"; port 0 picks
// one).
func ListenUDP(address string, logger *slog.Logger) (*Endpoint, error) {
	conn, err := net.ListenPacket("udp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: listening on %s: %w", ErrTransport, address, err)
	}
	return NewEndpoint(conn, logger), nil
}

// LocalAddress returns the bound address.
func (e *Endpoint) LocalAddress() netip.AddrPort {
	return addrPort(e.conn.LocalAddr())
}

// Send writes one datagram to the given address.
func (e *Endpoint) Send(to netip.AddrPort, payload []byte) error {
	if len(payload) > protocol.MaxDatagramSize {
		return fmt.Errorf("%w: %d byte datagram exceeds %d", ErrTransport, len(payload), protocol.MaxDatagramSize)
	}
	if _, err := e.conn.WriteTo(payload, net.UDPAddrFromAddrPort(to)); err != nil {
		return fmt.Errorf("%w: sending to %s: %w", ErrTransport, to, err)
	}
	return nil
}

// Serve reads datagrams and hands each to handler until ctx is
// cancelled or the endpoint is closed, then returns nil.
func (e *Endpoint) Serve(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		e.Close()
	}()

	// One byte over the limit so oversized datagrams are seen as such
	// instead of arriving truncated.
	buffer := make([]byte, protocol.MaxDatagramSize+1)
	for {
		n, address, err := e.conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil || netutil.IsClosed(err) {
				return nil
			}
			if netutil.IsExpectedCloseError(err) {
				e.logger.Debug("ignoring read error from a departed peer", "error", err)
				continue
			}
			return fmt.Errorf("%w: reading: %w", ErrTransport, err)
		}
		if n > protocol.MaxDatagramSize {
			e.logger.Debug("dropping oversized datagram", "from", address)
			continue
		}
		from := addrPort(address)
		if !from.IsValid() {
			continue
		}
		handler(from, bytes.Clone(buffer[:n]))
	}
}

// Close releases the socket. Idempotent.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.conn.Close()
	})
	return e.closeErr
}

// addrPort converts a net.Addr to a netip.AddrPort with IPv4-mapped
// addresses unmapped, so one peer has one key in address maps.
func addrPort(address net.Addr) netip.AddrPort {
	switch a := address.(type) {
	case *net.UDPAddr:
		ap := a.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	case nil:
		return netip.AddrPort{}
	default:
		ap, err := netip.ParseAddrPort(address.String())
		if err != nil {
			return netip.AddrPort{}
		}
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
}
