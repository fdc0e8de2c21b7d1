// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import "github.com/resonance-mesh/resonance/lib/ref"

// HelloInitiate opens a handshake.
type HelloInitiate struct {
	Version      uint8      `cbor:"v"`
	RoomID       ref.RoomID `cbor:"room"`
	PeerID       ref.PeerID `cbor:"peer"`
	EphemeralKey []byte     `cbor:"key"`

	// LinkKey is the public key from the join link the initiator is
	// using. Empty for member-to-member handshakes under the mesh
	// secret.
	LinkKey []byte `cbor:"link,omitempty"`
}

// HelloAck answers a HelloInitiate.
type HelloAck struct {
	Version      uint8      `cbor:"v"`
	RoomID       ref.RoomID `cbor:"room"`
	PeerID       ref.PeerID `cbor:"peer"`
	EphemeralKey []byte     `cbor:"key"`

	// Echo repeats the initiator ephemeral key this ack answers, so an
	// ack for an abandoned attempt is recognized and dropped rather than
	// failing verification against the current attempt's key.
	Echo []byte `cbor:"echo"`

	Tag []byte `cbor:"tag"`
}

// AuthTag confirms the initiator derived the same transcript.
type AuthTag struct {
	Tag []byte `cbor:"tag"`
}
