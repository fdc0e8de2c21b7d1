// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/resonance-mesh/resonance/lib/logging"
	"github.com/resonance-mesh/resonance/lib/testutil"
	"github.com/resonance-mesh/resonance/protocol"
)

type datagram struct {
	from    netip.AddrPort
	payload []byte
}

func serve(t *testing.T, endpoint *Endpoint) <-chan datagram {
	t.Helper()
	received := make(chan datagram, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- endpoint.Serve(ctx, func(from netip.AddrPort, payload []byte) {
			received <- datagram{from, payload}
		})
	}()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "Serve did not return"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return received
}

func TestMemoryNetwork_Exchange(t *testing.T) {
	network := NewMemoryNetwork()
	alpha, err := network.Endpoint("10.0.0.1:7700", logging.Discard())
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	beta, err := network.Endpoint("10.0.0.2:7700", logging.Discard())
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	received := serve(t, beta)

	if err := alpha.Send(beta.LocalAddress(), []byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := testutil.RequireReceive(t, received, 5*time.Second, "waiting for datagram")
	if got.from != alpha.LocalAddress() {
		t.Errorf("from = %s, want %s", got.from, alpha.LocalAddress())
	}
	if string(got.payload) != "ping" {
		t.Errorf("payload = %q", got.payload)
	}
}

func TestMemoryNetwork_DuplicateBind(t *testing.T) {
	network := NewMemoryNetwork()
	if _, err := network.Listen("10.0.0.1:7700"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if _, err := network.Listen("10.0.0.1:7700"); !errors.Is(err, ErrTransport) {
		t.Errorf("second Listen error = %v, want ErrTransport", err)
	}
}

func TestMemoryNetwork_FilterAndPartition(t *testing.T) {
	network := NewMemoryNetwork()
	alpha, _ := network.Endpoint("10.0.0.1:7700", logging.Discard())
	beta, _ := network.Endpoint("10.0.0.2:7700", logging.Discard())
	received := serve(t, beta)

	network.SetFilter(func(_, _ netip.AddrPort, payload []byte) []byte {
		if bytes.Equal(payload, []byte("drop")) {
			return nil
		}
		return bytes.ToUpper(payload)
	})
	alpha.Send(beta.LocalAddress(), []byte("drop"))
	alpha.Send(beta.LocalAddress(), []byte("keep"))
	got := testutil.RequireReceive(t, received, 5*time.Second, "filtered datagram")
	if string(got.payload) != "KEEP" {
		t.Errorf("payload = %q, want KEEP", got.payload)
	}
	network.SetFilter(nil)

	network.Partition(alpha.LocalAddress(), beta.LocalAddress())
	alpha.Send(beta.LocalAddress(), []byte("lost"))
	network.Heal(alpha.LocalAddress(), beta.LocalAddress())
	alpha.Send(beta.LocalAddress(), []byte("found"))
	got = testutil.RequireReceive(t, received, 5*time.Second, "datagram after heal")
	if string(got.payload) != "found" {
		t.Errorf("payload = %q, want found", got.payload)
	}
}

func TestEndpoint_SendToUnboundAddressIsSilent(t *testing.T) {
	network := NewMemoryNetwork()
	alpha, _ := network.Endpoint("10.0.0.1:7700", logging.Discard())
	if err := alpha.Send(netip.MustParseAddrPort("10.0.0.9:7700"), []byte("void")); err != nil {
		t.Errorf("Send to unbound address: %v", err)
	}
}

func TestEndpoint_Oversized(t *testing.T) {
	network := NewMemoryNetwork()
	alpha, _ := network.Endpoint("10.0.0.1:7700", logging.Discard())
	err := alpha.Send(netip.MustParseAddrPort("10.0.0.2:7700"), make([]byte, protocol.MaxDatagramSize+1))
	if !errors.Is(err, ErrTransport) {
		t.Errorf("oversized Send error = %v, want ErrTransport", err)
	}
}

func TestEndpoint_SendAfterClose(t *testing.T) {
	network := NewMemoryNetwork()
	alpha, _ := network.Endpoint("10.0.0.1:7700", logging.Discard())
	if err := alpha.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := alpha.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := alpha.Send(netip.MustParseAddrPort("10.0.0.2:7700"), []byte("x")); !errors.Is(err, ErrTransport) {
		t.Errorf("Send after Close error = %v, want ErrTransport", err)
	}
	// The address is free again.
	if _, err := network.Listen("10.0.0.1:7700"); err != nil {
		t.Errorf("rebinding after Close: %v", err)
	}
}

func TestListenUDP_Loopback(t *testing.T) {
	alpha, err := ListenUDP("127.0.0.1:0", logging.Discard())
	if err != nil {
		t.Skipf("UDP unavailable: %v", err)
	}
	beta, err := ListenUDP("127.0.0.1:0", logging.Discard())
	if err != nil {
		t.Skipf("UDP unavailable: %v", err)
	}
	t.Cleanup(func() { alpha.Close() })
	received := serve(t, beta)

	if alpha.LocalAddress().Port() == 0 {
		t.Fatal("LocalAddress has no port")
	}
	if err := alpha.Send(beta.LocalAddress(), []byte("over udp")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := testutil.RequireReceive(t, received, 5*time.Second, "waiting for UDP datagram")
	if got.from != alpha.LocalAddress() || string(got.payload) != "over udp" {
		t.Errorf("got %s %q", got.from, got.payload)
	}
}
