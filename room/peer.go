// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"net/netip"
	"time"

	"github.com/resonance-mesh/resonance/lib/ref"
)

// MaxMembers is the capacity ceiling of every room.
const MaxMembers = 8

// State is a peer's membership state.
type State uint8

const (
	Pending State = iota + 1
	Member
	Departed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Member:
		return "member"
	case Departed:
		return "departed"
	default:
		return "unknown"
	}
}

// Peer is a participant as known locally.
type Peer struct {
	ID      ref.PeerID
	Name    string
	Address netip.AddrPort
	State   State

	JoinedAt time.Time
	LastSeen time.Time
}

// PendingJoinRequest is a join attempt awaiting a decision.
type PendingJoinRequest struct {
	ID        ref.RequestID
	Requester Peer

	// LinkID identifies the join link the requester used.
	LinkID     string
	ReceivedAt time.Time
	Expires    time.Time
}

// Outcome is the terminal result of a join request.
type Outcome uint8

const (
	Approved Outcome = iota + 1
	Denied
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Approved:
		return "approved"
	case Denied:
		return "denied"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Departure identifies a membership that ended with an announced
// leave. JoinedAt is the admission time of that membership; a later
// admission of the same peer outranks the departure.
type Departure struct {
	ID       ref.PeerID
	JoinedAt time.Time
}

// Snapshot is an immutable copy of the room state. Members are sorted
// by PeerID; pending requests by arrival.
type Snapshot struct {
	RoomID  ref.RoomID
	Self    ref.PeerID
	Members []Peer
	Pending []PendingJoinRequest

	// Departed lists announced departures, which are safe to gossip.
	Departed []Departure

	// Suspects are peers removed by local failure detection whose hold
	// has not expired. They are never gossiped.
	Suspects []Peer
}

// Member returns the member with id, if any.
func (s Snapshot) Member(id ref.PeerID) (Peer, bool) {
	for _, peer := range s.Members {
		if peer.ID == id {
			return peer, true
		}
	}
	return Peer{}, false
}

// MemberIDs returns the member PeerIDs in order.
func (s Snapshot) MemberIDs() []ref.PeerID {
	ids := make([]ref.PeerID, len(s.Members))
	for i, peer := range s.Members {
		ids[i] = peer.ID
	}
	return ids
}
