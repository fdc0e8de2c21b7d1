// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds key material outside the Go heap.
//
// [Buffer] allocates memory via mmap(MAP_ANONYMOUS), asks the kernel
// to lock it into RAM and to exclude it from core dumps, and zeroes it
// on Close. Session keys, room mesh secrets, and link secrets all live
// in Buffers so that a dropped key does not linger in garbage the
// collector has not yet reused.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//   - [Random] -- fills a fresh buffer from crypto/rand
//
// mlock and madvise are best effort. Unprivileged containers commonly
// cap RLIMIT_MEMLOCK at a few pages, and a voice client must keep
// working there; [Buffer.Locked] reports whether the lock took.
//
// Depends on golang.org/x/sys/unix.
package secret
