// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines what travels between Resonance nodes.
//
// Every datagram is one CBOR [Frame]: a kind tag and a body. Three
// kinds carry the plaintext handshake (hello-initiate, hello-ack,
// auth-tag; the body types live in package handshake) and the fourth
// carries a sealed envelope (package channel). Once a secure channel
// is up, every envelope's plaintext is one [Message]: a type tag plus a
// CBOR body, one of
//
//   - [JoinRequest] -- a linked-in peer asks to become a member
//   - [JoinApproved] -- membership granted; carries the room's member
//     list and mesh secret
//   - [JoinDenied] -- membership refused, with a reason
//   - [PeerListGossip] -- the sender's member list, sent every gossip
//     interval
//   - [LeaveNotice] -- the sender is leaving the room
//   - [SdpOffer], [SdpAnswer], [IceCandidate] -- opaque media
//     negotiation payloads
//
// Bodies are decoded through [Message.Decode], which returns the
// concrete type for a type switch. An unknown type tag is an error, not
// a silent drop, so version skew shows up in logs.
package protocol
