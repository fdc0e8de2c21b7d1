// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"
)

// memoryQueueSize is the per-endpoint receive queue. Datagrams beyond
// it are dropped, as a full socket buffer would.
const memoryQueueSize = 256

// Filter inspects a datagram in flight on a MemoryNetwork. It returns
// the payload to deliver (possibly rewritten) or nil to drop it.
type Filter func(from, to netip.AddrPort, payload []byte) []byte

// MemoryNetwork is an in-process datagram network for tests. Endpoints
// created with Listen exchange datagrams through bounded queues.
// Datagrams to unbound addresses vanish.
type MemoryNetwork struct {
	mu          sync.Mutex
	conns       map[netip.AddrPort]*memoryConn
	filter      Filter
	partitioned map[[2]netip.AddrPort]bool
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		conns:       make(map[netip.AddrPort]*memoryConn),
		partitioned: make(map[[2]netip.AddrPort]bool),
	}
}

// Listen binds address ("ip:port") on the network.
func (n *MemoryNetwork) Listen(address string) (net.PacketConn, error) {
	local, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.conns[local]; ok {
		return nil, fmt.Errorf("%w: %s already bound", ErrTransport, local)
	}
	conn := &memoryConn{
		network: n,
		local:   local,
		queue:   make(chan memoryDatagram, memoryQueueSize),
		closed:  make(chan struct{}),
	}
	n.conns[local] = conn
	return conn, nil
}

// Endpoint binds address and wraps it in an Endpoint.
func (n *MemoryNetwork) Endpoint(address string, logger *slog.Logger) (*Endpoint, error) {
	conn, err := n.Listen(address)
	if err != nil {
		return nil, err
	}
	return NewEndpoint(conn, logger), nil
}

// SetFilter installs filter for every subsequent datagram; nil removes
// it.
func (n *MemoryNetwork) SetFilter(filter Filter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter = filter
}

// Partition drops all traffic between a and b in both directions until
// Heal.
func (n *MemoryNetwork) Partition(a, b netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[[2]netip.AddrPort{a, b}] = true
	n.partitioned[[2]netip.AddrPort{b, a}] = true
}

// Heal removes a partition between a and b.
func (n *MemoryNetwork) Heal(a, b netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitioned, [2]netip.AddrPort{a, b})
	delete(n.partitioned, [2]netip.AddrPort{b, a})
}

func (n *MemoryNetwork) deliver(from, to netip.AddrPort, payload []byte) {
	n.mu.Lock()
	if n.partitioned[[2]netip.AddrPort{from, to}] {
		n.mu.Unlock()
		return
	}
	filter := n.filter
	destination := n.conns[to]
	n.mu.Unlock()

	if filter != nil {
		payload = filter(from, to, payload)
		if payload == nil {
			return
		}
	}
	if destination == nil {
		return
	}
	select {
	case destination.queue <- memoryDatagram{from: from, payload: payload}:
	case <-destination.closed:
	default:
	}
}

func (n *MemoryNetwork) unbind(conn *memoryConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conns[conn.local] == conn {
		delete(n.conns, conn.local)
	}
}

type memoryDatagram struct {
	from    netip.AddrPort
	payload []byte
}

// memoryConn is a net.PacketConn on a MemoryNetwork. Addresses are
// *net.UDPAddr so code written against real UDP sockets sees the same
// types.
type memoryConn struct {
	network *MemoryNetwork
	local   netip.AddrPort
	queue   chan memoryDatagram
	closed  chan struct{}

	closeOnce sync.Once

	mu           sync.Mutex
	readDeadline time.Time
}

func (c *memoryConn) ReadFrom(buffer []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case datagram := <-c.queue:
		n := copy(buffer, datagram.payload)
		return n, net.UDPAddrFromAddrPort(datagram.from), nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case <-expired:
		return 0, nil, os.ErrDeadlineExceeded
	}
}

func (c *memoryConn) WriteTo(payload []byte, address net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	to := addrPort(address)
	if !to.IsValid() {
		return 0, errors.New("memory network: invalid destination address")
	}
	c.network.deliver(c.local, to, bytes.Clone(payload))
	return len(payload), nil
}

func (c *memoryConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.network.unbind(c)
	})
	return nil
}

func (c *memoryConn) LocalAddr() net.Addr { return net.UDPAddrFromAddrPort(c.local) }

func (c *memoryConn) SetDeadline(deadline time.Time) error {
	return c.SetReadDeadline(deadline)
}

func (c *memoryConn) SetReadDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = deadline
	return nil
}

// SetWriteDeadline is a no-op: writes never block.
func (c *memoryConn) SetWriteDeadline(time.Time) error { return nil }
