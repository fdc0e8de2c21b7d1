// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package handshake establishes a shared session key between two peers
// that both hold a 32-byte secret: the secret from a join link, or the
// room's mesh secret.
//
// The exchange is three plaintext frames:
//
//	initiator                                  responder
//	    HelloInitiate{ephemeral key, link key} ->
//	 <- HelloAck{ephemeral key, tag}
//	    AuthTag{confirmation tag}              ->
//
// Both tags are BLAKE3 keyed hashes, keyed by the shared secret, over a
// transcript binding the protocol version, room, both peer IDs, and
// both ephemeral keys. The initiator checks the responder's tag before
// trusting anything it sent; the responder checks the confirmation tag
// before reporting the session. A tag mismatch fails the run with
// [ErrHandshakeAuthFailure] and is never retried.
//
// The session key is HKDF-SHA256 over the X25519 shared secret, salted
// with the link or mesh secret, and split into one ChaCha20-Poly1305
// key per direction.
//
// An [Engine] runs at most one outbound handshake per remote address.
// Concurrent [Engine.Initiate] calls for the same address share the
// run. When both peers initiate at once, the run started by the peer
// with the smaller PeerID proceeds and the other side answers it.
package handshake
