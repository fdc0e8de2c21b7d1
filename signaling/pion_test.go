// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/resonance-mesh/resonance/lib/logging"
	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/transport"
)

// pionTimeout covers ICE gathering and DTLS over loopback.
const pionTimeout = 30 * time.Second

func newPionSide(t *testing.T, id ref.PeerID) *relaySide {
	t.Helper()
	// Empty ICE config means host candidates only (loopback).
	negotiator, err := NewPionNegotiator(PionConfig{ICE: transport.ICEConfig{}, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewPionNegotiator: %v", err)
	}
	t.Cleanup(func() { negotiator.Close() })

	side := &relaySide{
		id:     id,
		sender: &directSender{self: id},
		states: make(chan stateChange, 64),
	}
	side.relay = NewRelay(RelayConfig{
		Self:       id,
		Negotiator: negotiator,
		Sender:     side.sender,
		Logger:     logging.Discard(),
		StateChanged: func(peer ref.PeerID, state ConnectionState) {
			side.states <- stateChange{peer: peer, state: state}
		},
	})
	return side
}

func waitForState(t *testing.T, side *relaySide, want ConnectionState) {
	t.Helper()
	deadline := time.After(pionTimeout)
	for {
		select {
		case change := <-side.states:
			if change.state == want {
				return
			}
			if change.state == StateFailed {
				t.Fatalf("connection failed waiting for %s", want)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestPionNegotiator_Connects(t *testing.T) {
	if testing.Short() {
		t.Skip("WebRTC negotiation over loopback")
	}
	lowID, highID := orderedPeers()
	low, high := newPionSide(t, lowID), newPionSide(t, highID)
	low.sender.remote = high.relay
	high.sender.remote = low.relay

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, side := range []*relaySide{low, high} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			side.relay.Run(ctx)
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	if err := high.relay.Begin(low.id); err != nil {
		t.Fatalf("high Begin: %v", err)
	}
	if err := low.relay.Begin(high.id); err != nil {
		t.Fatalf("low Begin: %v", err)
	}

	waitForState(t, low, StateConnected)
	waitForState(t, high, StateConnected)
}

func TestPionNegotiator_RejectsWrongDescription(t *testing.T) {
	negotiator, err := NewPionNegotiator(PionConfig{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewPionNegotiator: %v", err)
	}
	defer negotiator.Close()

	peer := ref.NewPeerID()
	if _, err := negotiator.CreateAnswer(peer, []byte(`{"type":"answer","sdp":""}`)); err == nil {
		t.Error("CreateAnswer accepted an answer")
	}
	if _, err := negotiator.CreateAnswer(peer, []byte("not json")); err == nil {
		t.Error("CreateAnswer accepted malformed JSON")
	}
	if err := negotiator.HandleRemoteDescription(peer, []byte(`{"type":"answer","sdp":""}`)); err == nil {
		t.Error("HandleRemoteDescription succeeded for an unknown peer")
	}
	if err := negotiator.ClosePeer(peer); err != nil {
		t.Errorf("ClosePeer(unknown): %v", err)
	}
}

func TestPionNegotiator_OfferIsJSON(t *testing.T) {
	negotiator, err := NewPionNegotiator(PionConfig{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewPionNegotiator: %v", err)
	}
	defer negotiator.Close()

	offer, err := negotiator.CreateOffer(ref.NewPeerID())
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	description, err := decodeDescription(offer, webrtc.SDPTypeOffer)
	if err != nil {
		t.Fatalf("decodeDescription: %v", err)
	}
	if description.SDP == "" {
		t.Error("offer has no SDP")
	}
}
