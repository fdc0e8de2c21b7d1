// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaling carries media negotiation between peers over their
// secure channels.
//
// The media stack sits behind the [Negotiator] interface: it produces
// offers, answers, and ICE candidates as opaque payloads and reports
// connection-state changes on an ordered event stream. A [Relay] wraps
// outbound payloads in SdpOffer, SdpAnswer, and IceCandidate messages,
// hands inbound ones back to the negotiator, and pumps the negotiator's
// events. The relay never looks inside a payload and never
// deduplicates; the secure channel's sequencing is its only ordering.
//
// When two peers begin negotiating, the one with the smaller PeerID
// creates the offer, so both sides agree on roles without a round trip.
//
// [PionNegotiator] is the production negotiator: one pion/webrtc
// PeerConnection per remote peer with a sendrecv Opus transceiver and
// trickle ICE. [MemoryNegotiator] is an in-process stand-in for tests
// and for running the mesh without media.
package signaling
