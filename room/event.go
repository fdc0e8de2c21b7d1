// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package room

// Event is one membership change. The concrete types are
// [JoinRequestReceived], [RequestResolved], [PeerJoined], [PeerLeft],
// and [PeerListUpdated].
type Event interface {
	event()
}

// JoinRequestReceived announces a new pending request.
type JoinRequestReceived struct {
	Request PendingJoinRequest
}

// RequestResolved reports the terminal outcome of a pending request.
type RequestResolved struct {
	Request PendingJoinRequest
	Outcome Outcome
}

// PeerJoined announces a new member.
type PeerJoined struct {
	Peer Peer
}

// PeerLeft announces a departed member.
type PeerLeft struct {
	Peer   Peer
	Reason string
}

// PeerListUpdated carries the member list after any change to it.
type PeerListUpdated struct {
	Members []Peer
}

func (JoinRequestReceived) event() {}
func (RequestResolved) event()     {}
func (PeerJoined) event()          {}
func (PeerLeft) event()            {}
func (PeerListUpdated) event()     {}
