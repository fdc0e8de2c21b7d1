// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"bytes"

	"github.com/google/uuid"
)

// PeerID identifies one participant process for its lifetime.
//
// PeerIDs have a total order (Compare) used wherever two peers must
// agree on a role without negotiating: which side derives which
// directional key, which side's handshake wins a crossed attempt, and
// which side creates the media offer.
type PeerID struct {
	id uuid.UUID
}

// NewPeerID returns a fresh random peer identifier.
func NewPeerID() PeerID { return PeerID{id: uuid.New()} }

// ParsePeerID validates and wraps a canonical peer ID string.
func ParsePeerID(raw string) (PeerID, error) {
	id, err := parseIdentifier("peer", raw)
	if err != nil {
		return PeerID{}, err
	}
	return PeerID{id: id}, nil
}

// PeerIDFromBytes wraps a 16-byte binary peer identifier.
func PeerIDFromBytes(raw []byte) (PeerID, error) {
	id, err := identifierFromBytes("peer", raw)
	if err != nil {
		return PeerID{}, err
	}
	return PeerID{id: id}, nil
}

// String returns the canonical UUID form, or "" for the zero value.
func (p PeerID) String() string { return formatIdentifier(p.id) }

// Short returns the first eight hex digits, for log lines and display.
func (p PeerID) Short() string {
	if p.IsZero() {
		return ""
	}
	return p.id.String()[:8]
}

// Bytes returns the 16-byte binary form.
func (p PeerID) Bytes() []byte { return bytes.Clone(p.id[:]) }

// IsZero reports whether the PeerID is the zero value.
func (p PeerID) IsZero() bool { return p.id == uuid.Nil }

// Compare returns -1, 0, or +1 ordering p against other by their
// binary form. The order matches the lexical order of String.
func (p PeerID) Compare(other PeerID) int { return bytes.Compare(p.id[:], other.id[:]) }

// Less reports whether p orders before other.
func (p PeerID) Less(other PeerID) bool { return p.Compare(other) < 0 }

// MarshalText implements encoding.TextMarshaler.
func (p PeerID) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero value.
func (p *PeerID) UnmarshalText(data []byte) error {
	id, err := unmarshalIdentifier("peer", data)
	if err != nil {
		return err
	}
	*p = PeerID{id: id}
	return nil
}
