// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)

	recorder.ObserveHandshake("initiator", ResultOK, 40*time.Millisecond)
	recorder.ObserveHandshake("initiator", ResultAuthFailure, 0)
	recorder.ObserveHandshake("initiator", ResultAuthFailure, 0)
	recorder.ObserveEnvelopeRejected("replay")
	recorder.AddChannels(2)
	recorder.AddChannels(-1)
	recorder.SetMembers(3)
	recorder.ObserveLink("issued")

	if got := testutil.ToFloat64(recorder.handshakes.WithLabelValues("initiator", ResultAuthFailure)); got != 2 {
		t.Errorf("auth failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(recorder.decryptFailures.WithLabelValues("replay")); got != 1 {
		t.Errorf("replay rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(recorder.channelsOpen); got != 1 {
		t.Errorf("channels open = %v, want 1", got)
	}
	if got := testutil.ToFloat64(recorder.members); got != 3 {
		t.Errorf("members = %v, want 3", got)
	}
}

func TestRecorder_Nil(t *testing.T) {
	var recorder *Recorder
	recorder.ObserveHandshake("responder", ResultOK, time.Second)
	recorder.ObserveEnvelopeSent()
	recorder.ObserveEnvelopeReceived()
	recorder.ObserveEnvelopeRejected("tamper")
	recorder.AddChannels(1)
	recorder.SetMembers(1)
	recorder.ObserveJoinRequest("approved")
	recorder.ObserveGossipRound()
	recorder.ObserveGossipReconnect()
	recorder.ObserveLink("consumed")
	recorder.ObserveSignaling("outbound", "offer")
}

func TestHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(registry)
	recorder.ObserveGossipRound()

	server := httptest.NewServer(Handler(registry))
	defer server.Close()

	response, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(string(body), "resonance_gossip_rounds_total 1") {
		t.Errorf("exposition missing gossip counter:\n%s", body)
	}
}
