// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds sensitive data in memory allocated outside the Go heap
// and zeroed on close.
//
// A Buffer must not be copied after creation. After Close, any access
// to the contents panics.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	length int
	locked bool
	closed bool
}

// New allocates a new secret buffer of the given size. The caller must
// call Close when the secret is no longer needed.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}

	// Both calls can fail under a tight RLIMIT_MEMLOCK or an old
	// kernel. The memory is still off-heap and zeroed on Close.
	locked := unix.Mlock(data) == nil
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)

	return &Buffer{
		data:   data,
		length: size,
		locked: locked,
	}, nil
}

// NewFromBytes creates a secret buffer from existing data. The source
// bytes are copied into the protected region and then zeroed in place.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.data, source)
	Zero(source)
	return buffer, nil
}

// Random allocates a buffer of the given size filled from crypto/rand.
func Random(size int) (*Buffer, error) {
	buffer, err := New(size)
	if err != nil {
		return nil, err
	}
	if _, err := rand.Read(buffer.data); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("secret: reading random bytes: %w", err)
	}
	return buffer, nil
}

// Bytes returns the secret data. The returned slice points directly
// into the mmap region: do not hold it beyond the lifetime of the
// Buffer. Panics if the buffer has been closed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data[:b.length]
}

// Len returns the size of the secret data.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Locked reports whether the kernel accepted the mlock request.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Equal reports whether two buffers hold the same bytes, in constant
// time with respect to their contents.
func (b *Buffer) Equal(other *Buffer) bool {
	if b == other {
		return true
	}
	return subtle.ConstantTimeCompare(b.Bytes(), other.Bytes()) == 1
}

// Close zeros the buffer contents, unlocks and unmaps the memory.
// Close is idempotent.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.data)

	var firstError error
	if b.locked {
		if err := unix.Munlock(b.data); err != nil {
			firstError = fmt.Errorf("secret: munlock failed: %w", err)
		}
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap failed: %w", err)
	}

	b.data = nil
	return firstError
}

// Zero overwrites data with zeros. Use it on heap copies of secret
// material (decoded wire fields, intermediate derivations) once they
// have been moved into a Buffer.
func Zero(data []byte) {
	clear(data)
}
