// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package link encodes join links and tracks the links a member has
// handed out.
//
// A [JoinLink] carries everything a newcomer needs to reach and
// authenticate an inviter: the room, the inviter's address, the public
// half of an ephemeral key pair minted for this one link, and a 32-byte
// link secret. [Encode] renders it as a versioned text token suitable
// for a clipboard or QR code; [Decode] parses it back and fails with
// [ErrMalformedLink] on any structural violation.
//
// An [Issuer] holds the private half of every outstanding link. It
// answers the handshake engine's secret lookups for link handshakes,
// binds each link to the first peer that presents it, and forgets the
// link once the handshake completes or the link expires.
package link
