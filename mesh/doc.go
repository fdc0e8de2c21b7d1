// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package mesh coordinates a node's membership in one room.
//
// A [Node] owns the datagram endpoint and composes every other part:
// the handshake engine authenticates new peer pairs, each authenticated
// pair gets a secure channel, the room actor holds membership, the
// link issuer mints join links, and the signaling relay drives media
// negotiation over the channels.
//
// Joining follows the link. The joiner handshakes with the inviter
// using the link secret and sends a JoinRequest; the inviter's room
// raises a JoinRequestReceived event and waits for ApproveRequest or
// DenyRequest. On approval the inviter sends the new member a
// JoinApproved carrying the room's mesh secret and member list, and
// tells every existing member about the newcomer. Every member then
// holds a direct channel to every other member: the topology is a
// complete graph, not a star through the inviter. Member-to-member
// handshakes are authenticated with the mesh secret.
//
// Every gossip interval each member sends its member list to the
// members it is connected to. Members learned that way, and members
// with no channel, get a fresh handshake against their last known
// address. Members silent for the peer timeout are removed.
//
// Commands are methods on Node; everything the UI needs to show
// arrives on [Node.Events].
package mesh
