// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package link

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/resonance-mesh/resonance/lib/codec"
	"github.com/resonance-mesh/resonance/lib/ref"
)

// Prefix identifies version 1 tokens. A future format gets a new
// prefix so old decoders reject it instead of misparsing it.
const Prefix = "rsn1."

const (
	keySize    = 32
	secretSize = 32
)

// ErrMalformedLink is returned by Decode for any token that is not a
// well-formed version 1 join link.
var ErrMalformedLink = errors.New("malformed join link")

// JoinLink is a single-use bootstrap token.
type JoinLink struct {
	RoomID         ref.RoomID
	InviterAddress netip.AddrPort
	InviterKey     [keySize]byte
	Secret         [secretSize]byte
}

// ID is a short, non-secret identifier for the link, derived from the
// inviter key.
func (l JoinLink) ID() string { return KeyID(l.InviterKey[:]) }

// KeyID returns the link identifier for an inviter public key.
func KeyID(key []byte) string {
	if len(key) > 8 {
		key = key[:8]
	}
	return hex.EncodeToString(key)
}

// payload is the CBOR body of a token. Keys and secrets travel as byte
// strings and are length-checked on decode.
type payload struct {
	Room    ref.RoomID `cbor:"r"`
	Address string     `cbor:"a"`
	Key     []byte     `cbor:"k"`
	Secret  []byte     `cbor:"s"`
}

// Encode renders link as a token.
func Encode(link JoinLink) (string, error) {
	if link.RoomID.IsZero() {
		return "", errors.New("join link has no room")
	}
	if !link.InviterAddress.IsValid() {
		return "", errors.New("join link has no inviter address")
	}
	data, err := codec.Marshal(payload{
		Room:    link.RoomID,
		Address: link.InviterAddress.String(),
		Key:     link.InviterKey[:],
		Secret:  link.Secret[:],
	})
	if err != nil {
		return "", fmt.Errorf("encoding join link: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a token produced by Encode. Surrounding whitespace is
// ignored so tokens pasted from a terminal decode cleanly.
func Decode(token string) (JoinLink, error) {
	token = strings.TrimSpace(token)
	body, ok := strings.CutPrefix(token, Prefix)
	if !ok {
		return JoinLink{}, fmt.Errorf("%w: missing %q version prefix", ErrMalformedLink, Prefix)
	}
	data, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return JoinLink{}, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}

	var p payload
	if err := codec.Unmarshal(data, &p); err != nil {
		return JoinLink{}, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}
	if p.Room.IsZero() {
		return JoinLink{}, fmt.Errorf("%w: no room ID", ErrMalformedLink)
	}
	address, err := netip.ParseAddrPort(p.Address)
	if err != nil {
		return JoinLink{}, fmt.Errorf("%w: inviter address: %v", ErrMalformedLink, err)
	}
	if address.Port() == 0 {
		return JoinLink{}, fmt.Errorf("%w: inviter address %s has no port", ErrMalformedLink, address)
	}
	if len(p.Key) != keySize {
		return JoinLink{}, fmt.Errorf("%w: inviter key is %d bytes, want %d", ErrMalformedLink, len(p.Key), keySize)
	}
	if len(p.Secret) != secretSize {
		return JoinLink{}, fmt.Errorf("%w: link secret is %d bytes, want %d", ErrMalformedLink, len(p.Secret), secretSize)
	}

	link := JoinLink{RoomID: p.Room, InviterAddress: address}
	copy(link.InviterKey[:], p.Key)
	copy(link.Secret[:], p.Secret)
	return link, nil
}
