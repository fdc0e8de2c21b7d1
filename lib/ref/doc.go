// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identifiers for the
// participants and conversations of a Resonance mesh.
//
// Every identifier is a random 128-bit value carried as a UUID:
//
//   - [PeerID] names one participant process. It is created at process
//     start and lives for the lifetime of the process.
//   - [RoomID] names one conversation. The founding peer creates it once
//     and every subsequent join link carries it.
//   - [RequestID] names one pending join request inside a room.
//
// The types are distinct so a peer ID can never be passed where a room
// ID is expected. All three are comparable value types usable as map
// keys. The zero value is invalid; use IsZero to check.
//
// The canonical text form is the lowercase hyphenated UUID string.
// Text and CBOR serialization use this form via encoding.TextMarshaler.
// The zero value marshals as the empty string so optional identifier
// fields round-trip without special casing.
package ref
