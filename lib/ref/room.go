// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// RoomID identifies a conversation. It is created exactly once by the
// founding peer and never changes for the life of the room.
type RoomID struct {
	id uuid.UUID
}

// NewRoomID returns a fresh random room identifier.
func NewRoomID() RoomID { return RoomID{id: uuid.New()} }

// ParseRoomID validates and wraps a canonical room ID string.
func ParseRoomID(raw string) (RoomID, error) {
	id, err := parseIdentifier("room", raw)
	if err != nil {
		return RoomID{}, err
	}
	return RoomID{id: id}, nil
}

// RoomIDFromBytes wraps a 16-byte binary room identifier.
func RoomIDFromBytes(raw []byte) (RoomID, error) {
	id, err := identifierFromBytes("room", raw)
	if err != nil {
		return RoomID{}, err
	}
	return RoomID{id: id}, nil
}

// String returns the canonical UUID form, or "" for the zero value.
func (r RoomID) String() string { return formatIdentifier(r.id) }

// Bytes returns the 16-byte binary form.
func (r RoomID) Bytes() []byte { return bytes.Clone(r.id[:]) }

// IsZero reports whether the RoomID is the zero value (uninitialized).
func (r RoomID) IsZero() bool { return r.id == uuid.Nil }

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// produces the zero value.
func (r *RoomID) UnmarshalText(data []byte) error {
	id, err := unmarshalIdentifier("room", data)
	if err != nil {
		return err
	}
	*r = RoomID{id: id}
	return nil
}

// parseIdentifier parses a canonical UUID string. Only the hyphenated
// 36-character form is accepted: the looser forms uuid.Parse also
// takes (braces, urn prefix) would give one identifier several
// spellings.
func parseIdentifier(kind, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("empty %s ID", kind)
	}
	if len(raw) != 36 {
		return uuid.Nil, fmt.Errorf("%s ID %q is not a canonical UUID", kind, raw)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s ID %q: %w", kind, raw, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s ID is the nil UUID", kind)
	}
	return id, nil
}

func identifierFromBytes(kind string, raw []byte) (uuid.UUID, error) {
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s ID bytes: %w", kind, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s ID is the nil UUID", kind)
	}
	return id, nil
}

func unmarshalIdentifier(kind string, data []byte) (uuid.UUID, error) {
	if len(data) == 0 {
		return uuid.Nil, nil
	}
	return parseIdentifier(kind, string(data))
}

func formatIdentifier(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
