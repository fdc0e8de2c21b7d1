// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel implements the per-peer secure channel that carries
// every post-handshake message.
//
// Each message is sealed with ChaCha20-Poly1305 into one self-contained
// [Envelope] under the sending direction's session key. The nonce is
// derived from the envelope's sequence number and the sender and
// sequence are bound as associated data, so an envelope cannot be
// replayed under a different sequence or attributed to another peer.
// The receiver runs every envelope through a [ReplayWindow] before it
// is delivered.
//
// A [Channel] owns one send task and one receive task. Envelopes that
// fail authentication are discarded and reported, and never stop the
// channel, since anyone can put datagrams on the wire. A send that
// exhausts its retries fails the channel so the owner can tear the
// peer down. Close stops both tasks and zeroes the session key.
package channel
