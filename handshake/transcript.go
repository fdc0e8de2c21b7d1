// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"crypto/subtle"

	"github.com/zeebo/blake3"

	"github.com/resonance-mesh/resonance/lib/ref"
)

// Domain labels keep the three uses of the transcript distinct.
var (
	domainResponderTag = []byte("resonance/v1/handshake/responder")
	domainConfirmTag   = []byte("resonance/v1/handshake/confirm")
	domainSessionKeys  = []byte("resonance/v1/handshake/session-keys")
)

// TagSize is the length of both handshake tags.
const TagSize = 32

// transcript is everything both sides must agree on.
type transcript struct {
	version      uint8
	room         ref.RoomID
	initiator    ref.PeerID
	responder    ref.PeerID
	initiatorKey []byte
	responderKey []byte
}

func (t transcript) encode(domain []byte) []byte {
	data := make([]byte, 0, len(domain)+1+16*3+2*KeySize)
	data = append(data, domain...)
	data = append(data, t.version)
	data = append(data, t.room.Bytes()...)
	data = append(data, t.initiator.Bytes()...)
	data = append(data, t.responder.Bytes()...)
	data = append(data, t.initiatorKey...)
	data = append(data, t.responderKey...)
	return data
}

// tag computes the keyed BLAKE3 hash of the transcript under domain.
// key must be exactly 32 bytes.
func (t transcript) tag(key []byte, domain []byte) []byte {
	hasher, err := blake3.NewKeyed(key)
	if err != nil {
		panic("handshake: BLAKE3 keyed hash initialization failed (key must be 32 bytes): " + err.Error())
	}
	hasher.Write(t.encode(domain))
	return hasher.Sum(nil)[:TagSize]
}

// hash is the unkeyed transcript digest mixed into key derivation.
func (t transcript) hash() []byte {
	sum := blake3.Sum256(t.encode(domainSessionKeys))
	return sum[:]
}

func tagsEqual(expected, received []byte) bool {
	return len(received) == TagSize && subtle.ConstantTimeCompare(expected, received) == 1
}
