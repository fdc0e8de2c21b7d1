// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"bytes"
	"errors"
	"testing"

	"github.com/resonance-mesh/resonance/lib/ref"
)

func TestSealOpen(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	sender := ref.NewPeerID()
	plaintext := []byte("join-request from beta")

	envelope, err := seal(key, sender, 7, plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if envelope.Sequence != 7 || envelope.Sender != sender {
		t.Errorf("envelope header = %d/%s", envelope.Sequence, envelope.Sender)
	}
	if len(envelope.Tag) != TagSize || len(envelope.Nonce) != NonceSize {
		t.Fatalf("tag/nonce sizes = %d/%d", len(envelope.Tag), len(envelope.Nonce))
	}
	if !bytes.Equal(envelope.Nonce, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 7}) {
		t.Errorf("nonce = %x", envelope.Nonce)
	}
	if bytes.Contains(envelope.Ciphertext, plaintext) {
		t.Error("ciphertext contains the plaintext")
	}

	opened, err := open(key, envelope)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("opened = %q, want %q", opened, plaintext)
	}
}

func TestOpen_Tampered(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	sender := ref.NewPeerID()

	tests := []struct {
		name   string
		key    []byte
		mutate func(*Envelope)
	}{
		{"wrong key", bytes.Repeat([]byte{0x22}, 32), func(*Envelope) {}},
		{"ciphertext byte", key, func(e *Envelope) { e.Ciphertext[0] ^= 0x01 }},
		{"tag byte", key, func(e *Envelope) { e.Tag[TagSize-1] ^= 0x80 }},
		{"sequence", key, func(e *Envelope) { e.Sequence++ }},
		{"nonce", key, func(e *Envelope) { e.Nonce[0] = 1 }},
		{"sender", key, func(e *Envelope) { e.Sender = ref.NewPeerID() }},
		{"short tag", key, func(e *Envelope) { e.Tag = e.Tag[:8] }},
		{"missing nonce", key, func(e *Envelope) { e.Nonce = nil }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			envelope, err := seal(key, sender, 3, []byte("payload"))
			if err != nil {
				t.Fatalf("seal: %v", err)
			}
			test.mutate(&envelope)
			if _, err := open(test.key, envelope); !errors.Is(err, ErrDecryptionFailure) {
				t.Errorf("open error = %v, want ErrDecryptionFailure", err)
			}
		})
	}
}
