// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "github.com/google/uuid"

// RequestID identifies one pending join request. UI collaborators see
// it in JoinRequestReceived events and hand it back to approve or deny.
type RequestID struct {
	id uuid.UUID
}

// NewRequestID returns a fresh random request identifier.
func NewRequestID() RequestID { return RequestID{id: uuid.New()} }

// ParseRequestID validates and wraps a canonical request ID string.
func ParseRequestID(raw string) (RequestID, error) {
	id, err := parseIdentifier("request", raw)
	if err != nil {
		return RequestID{}, err
	}
	return RequestID{id: id}, nil
}

// String returns the canonical UUID form, or "" for the zero value.
func (r RequestID) String() string { return formatIdentifier(r.id) }

// IsZero reports whether the RequestID is the zero value.
func (r RequestID) IsZero() bool { return r.id == uuid.Nil }

// MarshalText implements encoding.TextMarshaler.
func (r RequestID) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RequestID) UnmarshalText(data []byte) error {
	id, err := unmarshalIdentifier("request", data)
	if err != nil {
		return err
	}
	*r = RequestID{id: id}
	return nil
}
