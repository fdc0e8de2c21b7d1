// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"errors"
	"testing"

	"github.com/resonance-mesh/resonance/lib/testutil"
)

func TestMemoryNegotiator_HoldsEarlyCandidates(t *testing.T) {
	low, high := orderedPeers()
	negotiator := NewMemoryNegotiator(high)
	defer negotiator.Close()

	if err := negotiator.AddICECandidate(low, []byte("early")); err != nil {
		t.Fatalf("AddICECandidate: %v", err)
	}
	if _, err := negotiator.CreateAnswer(low, []byte("offer:"+low.String())); err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	candidates := negotiator.Candidates(low)
	if len(candidates) != 1 || string(candidates[0]) != "early" {
		t.Errorf("candidates = %q, want [early]", candidates)
	}
}

func TestMemoryNegotiator_RejectsForeignOffer(t *testing.T) {
	low, high := orderedPeers()
	negotiator := NewMemoryNegotiator(high)
	defer negotiator.Close()

	if _, err := negotiator.CreateAnswer(low, []byte("offer:"+high.String())); err == nil {
		t.Error("CreateAnswer accepted an offer naming another peer")
	}
}

func TestMemoryNegotiator_Close(t *testing.T) {
	low, high := orderedPeers()
	negotiator := NewMemoryNegotiator(low)
	if err := negotiator.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := negotiator.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := negotiator.CreateOffer(high); !errors.Is(err, ErrNegotiatorClosed) {
		t.Errorf("CreateOffer after Close: %v, want ErrNegotiatorClosed", err)
	}

	done := make(chan struct{})
	go func() {
		for range negotiator.Events() {
		}
		close(done)
	}()
	testutil.RequireClosed(t, done, testTimeout, "event stream not closed")
}
