// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus instrumentation for a node.
//
// A nil *Recorder is valid and records nothing, so components take a
// Recorder unconditionally and tests pass nil.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resonance"

// Handshake results.
const (
	ResultOK          = "ok"
	ResultAuthFailure = "auth_failure"
	ResultTimeout     = "timeout"
	ResultError       = "error"
)

// Recorder holds every metric a node reports.
type Recorder struct {
	handshakes        *prometheus.CounterVec
	handshakeDuration prometheus.Histogram
	envelopesSent     prometheus.Counter
	envelopesReceived prometheus.Counter
	decryptFailures   *prometheus.CounterVec
	channelsOpen      prometheus.Gauge
	members           prometheus.Gauge
	joinRequests      *prometheus.CounterVec
	gossipRounds      prometheus.Counter
	gossipReconnects  prometheus.Counter
	links             *prometheus.CounterVec
	signaling         *prometheus.CounterVec
}

// NewRecorder creates the metrics and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Completed handshake runs by role and result",
		}, []string{"role", "result"}),
		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from first HelloInitiate to an established session key",
			Buckets:   prometheus.DefBuckets,
		}),
		envelopesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_sent_total",
			Help:      "Envelopes sealed and handed to the transport",
		}),
		envelopesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_received_total",
			Help:      "Envelopes opened and delivered",
		}),
		decryptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelope_rejections_total",
			Help:      "Envelopes discarded by reason (tamper, replay, malformed)",
		}, []string{"reason"}),
		channelsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_open",
			Help:      "Secure channels currently established",
		}),
		members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_members",
			Help:      "Members in the local room view, including this node",
		}),
		joinRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_requests_total",
			Help:      "Join requests by terminal outcome",
		}, []string{"outcome"}),
		gossipRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_rounds_total",
			Help:      "Peer list gossip rounds sent",
		}),
		gossipReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_reconnects_total",
			Help:      "Handshakes started because gossip named an unconnected member",
		}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_total",
			Help:      "Join links by event (issued, consumed, expired)",
		}, []string{"event"}),
		signaling: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_messages_total",
			Help:      "Relayed negotiation payloads by direction and kind",
		}, []string{"direction", "kind"}),
	}

	reg.MustRegister(
		r.handshakes,
		r.handshakeDuration,
		r.envelopesSent,
		r.envelopesReceived,
		r.decryptFailures,
		r.channelsOpen,
		r.members,
		r.joinRequests,
		r.gossipRounds,
		r.gossipReconnects,
		r.links,
		r.signaling,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ObserveHandshake records one finished handshake run.
func (r *Recorder) ObserveHandshake(role, result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.handshakes.WithLabelValues(role, result).Inc()
	if result == ResultOK {
		r.handshakeDuration.Observe(elapsed.Seconds())
	}
}

func (r *Recorder) ObserveEnvelopeSent() {
	if r == nil {
		return
	}
	r.envelopesSent.Inc()
}

func (r *Recorder) ObserveEnvelopeReceived() {
	if r == nil {
		return
	}
	r.envelopesReceived.Inc()
}

// ObserveEnvelopeRejected records a discarded inbound envelope.
func (r *Recorder) ObserveEnvelopeRejected(reason string) {
	if r == nil {
		return
	}
	r.decryptFailures.WithLabelValues(reason).Inc()
}

// AddChannels adjusts the open channel gauge by delta.
func (r *Recorder) AddChannels(delta int) {
	if r == nil {
		return
	}
	r.channelsOpen.Add(float64(delta))
}

func (r *Recorder) SetMembers(count int) {
	if r == nil {
		return
	}
	r.members.Set(float64(count))
}

// ObserveJoinRequest records a join request outcome: approved, denied,
// timed_out, or room_full.
func (r *Recorder) ObserveJoinRequest(outcome string) {
	if r == nil {
		return
	}
	r.joinRequests.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveGossipRound() {
	if r == nil {
		return
	}
	r.gossipRounds.Inc()
}

func (r *Recorder) ObserveGossipReconnect() {
	if r == nil {
		return
	}
	r.gossipReconnects.Inc()
}

// ObserveLink records a link lifecycle event.
func (r *Recorder) ObserveLink(event string) {
	if r == nil {
		return
	}
	r.links.WithLabelValues(event).Inc()
}

// ObserveSignaling records one relayed negotiation payload.
func (r *Recorder) ObserveSignaling(direction, kind string) {
	if r == nil {
		return
	}
	r.signaling.WithLabelValues(direction, kind).Inc()
}
