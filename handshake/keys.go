// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/resonance-mesh/resonance/lib/secret"
)

// KeySize is the size of X25519 keys, shared secrets, and each
// directional session key.
const KeySize = 32

// KeyPair is an X25519 key pair whose private half lives in a
// secret.Buffer.
type KeyPair struct {
	private *secret.Buffer
	Public  [KeySize]byte
}

// GenerateKeyPair creates a fresh ephemeral key pair.
func GenerateKeyPair() (*KeyPair, error) {
	private, err := secret.Random(KeySize)
	if err != nil {
		return nil, fmt.Errorf("generating X25519 private key: %w", err)
	}
	return KeyPairFromPrivate(private)
}

// KeyPairFromPrivate wraps an existing private key. The KeyPair takes
// ownership of private.
func KeyPairFromPrivate(private *secret.Buffer) (*KeyPair, error) {
	if private.Len() != KeySize {
		private.Close()
		return nil, fmt.Errorf("X25519 private key must be %d bytes, got %d", KeySize, private.Len())
	}
	public, err := curve25519.X25519(private.Bytes(), curve25519.Basepoint)
	if err != nil {
		private.Close()
		return nil, fmt.Errorf("deriving X25519 public key: %w", err)
	}
	pair := &KeyPair{private: private}
	copy(pair.Public[:], public)
	return pair, nil
}

// Clone returns an independent copy of the key pair. Handing a clone
// to the engine lets the owner keep answering with the same key.
func (k *KeyPair) Clone() (*KeyPair, error) {
	private, err := secret.NewFromBytes(bytes.Clone(k.private.Bytes()))
	if err != nil {
		return nil, err
	}
	return KeyPairFromPrivate(private)
}

// Close zeroes the private key. Idempotent, and safe on nil.
func (k *KeyPair) Close() error {
	if k == nil {
		return nil
	}
	return k.private.Close()
}

// sharedSecret computes the X25519 shared secret with peerPublic. The
// result is a heap slice the caller must zero. Low-order peer keys are
// rejected by curve25519.X25519.
func (k *KeyPair) sharedSecret(peerPublic []byte) ([]byte, error) {
	shared, err := curve25519.X25519(k.private.Bytes(), peerPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: X25519: %v", ErrHandshakeAuthFailure, err)
	}
	return shared, nil
}

// SessionKey is the symmetric key material for one peer pair: one
// ChaCha20-Poly1305 key per direction.
type SessionKey struct {
	material  *secret.Buffer
	initiator bool
}

// deriveSessionKey expands the X25519 shared secret into 64 bytes of
// key material: initiator-to-responder first, responder-to-initiator
// second. shared is zeroed.
func deriveSessionKey(shared, salt, transcriptHash []byte, initiator bool) (*SessionKey, error) {
	defer secret.Zero(shared)

	info := make([]byte, 0, len(domainSessionKeys)+len(transcriptHash))
	info = append(info, domainSessionKeys...)
	info = append(info, transcriptHash...)

	reader := hkdf.New(sha256.New, shared, salt, info)
	derived := make([]byte, 2*KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF session key derivation failed: %w", err)
	}
	material, err := secret.NewFromBytes(derived)
	if err != nil {
		return nil, err
	}
	return &SessionKey{material: material, initiator: initiator}, nil
}

// NewSessionKey wraps 64 bytes of existing key material, laid out as
// deriveSessionKey produces it. material is zeroed.
func NewSessionKey(material []byte, initiator bool) (*SessionKey, error) {
	if len(material) != 2*KeySize {
		secret.Zero(material)
		return nil, fmt.Errorf("session key material must be %d bytes, got %d", 2*KeySize, len(material))
	}
	buffer, err := secret.NewFromBytes(material)
	if err != nil {
		return nil, err
	}
	return &SessionKey{material: buffer, initiator: initiator}, nil
}

// SendKey returns the key for messages this side sends. The slice
// points into protected memory and is invalid after Close.
func (k *SessionKey) SendKey() []byte {
	material := k.material.Bytes()
	if k.initiator {
		return material[:KeySize]
	}
	return material[KeySize:]
}

// ReceiveKey returns the key for messages the remote side sends.
func (k *SessionKey) ReceiveKey() []byte {
	material := k.material.Bytes()
	if k.initiator {
		return material[KeySize:]
	}
	return material[:KeySize]
}

// Fingerprint returns a short non-secret digest of the key material.
// Both ends of a session report the same fingerprint.
func (k *SessionKey) Fingerprint() string {
	var digest [16]byte
	blake3.DeriveKey("resonance session key fingerprint v1", k.material.Bytes(), digest[:])
	return hex.EncodeToString(digest[:])
}

// Close zeroes the key material. Idempotent.
func (k *SessionKey) Close() error {
	if k == nil {
		return nil
	}
	return k.material.Close()
}
