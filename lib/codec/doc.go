// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the shared CBOR encoding configuration for
// every Resonance wire structure: join-link payloads, handshake frames,
// secure-channel envelopes, and the application messages sealed inside
// them.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Same
// logical data always produces identical bytes, which matters here
// because handshake transcripts and link tokens are compared and
// hashed byte-for-byte.
//
// The decoder is strict because every input arrives from the network:
// duplicate map keys and indefinite-length items are rejected, and
// container sizes are bounded so a hostile datagram cannot make the
// decoder allocate without limit. Unknown fields are ignored so newer
// peers can add fields without breaking older ones.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// Wire types use `cbor` tags with short keys. Identifier types from
// lib/ref implement encoding.TextMarshaler and travel as CBOR text
// strings.
package codec
