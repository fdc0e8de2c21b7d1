// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/resonance-mesh/resonance/lib/ref"
)

const (
	// NonceSize is the ChaCha20-Poly1305 nonce size.
	NonceSize = chacha20poly1305.NonceSize

	// TagSize is the Poly1305 authenticator size.
	TagSize = chacha20poly1305.Overhead
)

// ErrDecryptionFailure covers every envelope the receiver refuses:
// a wrong key, corrupted bytes, a forged sender, or a replay.
var ErrDecryptionFailure = errors.New("decryption failure")

// Envelope is one sealed message on the wire.
type Envelope struct {
	Sender     ref.PeerID `cbor:"from"`
	Sequence   uint64     `cbor:"seq"`
	Nonce      []byte     `cbor:"nonce"`
	Ciphertext []byte     `cbor:"ct"`
	Tag        []byte     `cbor:"tag"`
}

// nonceFor returns four zero bytes followed by the big-endian
// sequence number.
func nonceFor(sequence uint64) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.BigEndian.PutUint64(nonce[NonceSize-8:], sequence)
	return nonce
}

func additionalData(sender ref.PeerID, sequence uint64) []byte {
	data := sender.Bytes()
	return binary.BigEndian.AppendUint64(data, sequence)
}

// seal encrypts plaintext as envelope number sequence from sender.
func seal(key []byte, sender ref.PeerID, sequence uint64, plaintext []byte) (Envelope, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("initializing AEAD: %w", err)
	}
	nonce := nonceFor(sequence)
	sealed := aead.Seal(nil, nonce[:], plaintext, additionalData(sender, sequence))
	split := len(sealed) - TagSize
	return Envelope{
		Sender:     sender,
		Sequence:   sequence,
		Nonce:      nonce[:],
		Ciphertext: sealed[:split],
		Tag:        sealed[split:],
	}, nil
}

// open authenticates and decrypts envelope. Every failure wraps
// ErrDecryptionFailure.
func open(key []byte, envelope Envelope) ([]byte, error) {
	if len(envelope.Nonce) != NonceSize || len(envelope.Tag) != TagSize {
		return nil, fmt.Errorf("%w: malformed envelope %d", ErrDecryptionFailure, envelope.Sequence)
	}
	nonce := nonceFor(envelope.Sequence)
	if !bytes.Equal(envelope.Nonce, nonce[:]) {
		return nil, fmt.Errorf("%w: nonce does not match sequence %d", ErrDecryptionFailure, envelope.Sequence)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("initializing AEAD: %w", err)
	}
	sealed := make([]byte, 0, len(envelope.Ciphertext)+TagSize)
	sealed = append(sealed, envelope.Ciphertext...)
	sealed = append(sealed, envelope.Tag...)
	plaintext, err := aead.Open(nil, nonce[:], sealed, additionalData(envelope.Sender, envelope.Sequence))
	if err != nil {
		return nil, fmt.Errorf("%w: envelope %d does not authenticate", ErrDecryptionFailure, envelope.Sequence)
	}
	return plaintext, nil
}
