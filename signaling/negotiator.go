// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"errors"

	"github.com/resonance-mesh/resonance/lib/ref"
)

// ErrUnknownPeer is returned for operations on a peer the negotiator
// has no connection for.
var ErrUnknownPeer = errors.New("no media connection for peer")

// Negotiator is the media-negotiation collaborator.
type Negotiator interface {
	// CreateOffer starts a connection to peer and returns the local
	// offer.
	CreateOffer(peer ref.PeerID) ([]byte, error)

	// CreateAnswer applies a remote offer and returns the local answer.
	CreateAnswer(peer ref.PeerID, offer []byte) ([]byte, error)

	// HandleRemoteDescription applies the remote answer to an offer
	// this side created.
	HandleRemoteDescription(peer ref.PeerID, answer []byte) error

	// AddICECandidate applies one remote candidate. Candidates that
	// arrive before the remote description are held until it is set.
	AddICECandidate(peer ref.PeerID, candidate []byte) error

	// ClosePeer tears down the connection to peer. Closing an unknown
	// peer is not an error.
	ClosePeer(peer ref.PeerID) error

	// Events delivers local candidates and state changes in the order
	// they occurred. It is closed by Close.
	Events() <-chan Event

	Close() error
}

// EventKind distinguishes negotiator events.
type EventKind uint8

const (
	// EventCandidate carries a locally gathered ICE candidate.
	EventCandidate EventKind = iota + 1
	// EventState reports a connection-state change.
	EventState
)

// ConnectionState is the media connection state for one peer.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// Event is one notification from a Negotiator.
type Event struct {
	Peer ref.PeerID
	Kind EventKind

	// Candidate is set for EventCandidate.
	Candidate []byte
	// State is set for EventState.
	State ConnectionState
}
