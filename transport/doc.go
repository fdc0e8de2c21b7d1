// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport is the unreliable datagram substrate under the
// handshake engine and the secure channels.
//
// An [Endpoint] wraps a net.PacketConn with netip addressing: Send puts
// one datagram on the wire and Serve runs the read loop, handing each
// datagram to a handler. Datagrams may be lost, duplicated, or
// reordered; the layers above tolerate all three. Send failures wrap
// [ErrTransport].
//
// [ListenUDP] binds a real UDP socket. [MemoryNetwork] is an in-process
// network for tests: endpoints created on it exchange datagrams through
// queues, and a filter hook can drop, rewrite, or partition traffic.
//
// [ICEConfig] carries the STUN and TURN servers the media negotiator
// gathers candidates against. The core never speaks ICE itself; it
// only hands the server list through.
package transport
