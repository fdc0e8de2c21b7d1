// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestNew_ValidSize(t *testing.T) {
	buffer, err := New(32)
	if err != nil {
		t.Fatalf("New(32) failed: %v", err)
	}
	defer buffer.Close()

	if buffer.Len() != 32 {
		t.Errorf("expected length 32, got %d", buffer.Len())
	}
	for index, value := range buffer.Bytes() {
		if value != 0 {
			t.Fatalf("expected zero at index %d, got %d", index, value)
		}
	}
}

func TestNew_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d) succeeded, want error", size)
		}
	}
}

func TestNewFromBytes_ZerosSource(t *testing.T) {
	source := []byte("room-mesh-secret-material-32byte")
	original := bytes.Clone(source)

	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes failed: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), original) {
		t.Errorf("buffer = %q, want %q", buffer.Bytes(), original)
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source byte %d was not zeroed: got %d", index, value)
		}
	}
}

func TestNewFromBytes_Empty(t *testing.T) {
	if _, err := NewFromBytes(nil); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestRandom(t *testing.T) {
	first, err := Random(32)
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	defer first.Close()
	second, err := Random(32)
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	defer second.Close()

	if first.Equal(second) {
		t.Error("two random buffers are equal")
	}
	if bytes.Equal(first.Bytes(), make([]byte, 32)) {
		t.Error("random buffer is all zeros")
	}
}

func TestBuffer_Equal(t *testing.T) {
	alpha, _ := NewFromBytes([]byte("same-bytes"))
	defer alpha.Close()
	beta, _ := NewFromBytes([]byte("same-bytes"))
	defer beta.Close()
	gamma, _ := NewFromBytes([]byte("diff-bytes"))
	defer gamma.Close()

	if !alpha.Equal(beta) {
		t.Error("equal contents reported unequal")
	}
	if alpha.Equal(gamma) {
		t.Error("different contents reported equal")
	}
	if !alpha.Equal(alpha) {
		t.Error("buffer not equal to itself")
	}
}

func TestBuffer_Close_ZerosMemory(t *testing.T) {
	buffer, err := New(32)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	copy(buffer.Bytes(), []byte("this should be zeroed"))

	if err := buffer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if buffer.data != nil {
		t.Error("expected data to be nil after Close")
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestBuffer_Close_Nil(t *testing.T) {
	var buffer *Buffer
	if err := buffer.Close(); err != nil {
		t.Fatalf("Close on nil buffer: %v", err)
	}
}

func TestBuffer_Bytes_PanicsAfterClose(t *testing.T) {
	buffer, err := New(16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on Bytes() after Close")
		}
	}()
	buffer.Bytes()
}

func TestZero(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	Zero(data)
	if !bytes.Equal(data, []byte{0, 0, 0, 0}) {
		t.Errorf("Zero left %v", data)
	}
}
