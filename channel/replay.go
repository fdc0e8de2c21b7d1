// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package channel

// ReplayWindow tracks which sequence numbers a receiver has accepted.
//
// With size 0 every accepted sequence must exceed the previous one.
// With a positive size, sequences up to size-1 below the highest seen
// are admitted once each, for datagrams the network reordered.
// Sequence 0 is never valid. Not safe for concurrent use.
type ReplayWindow struct {
	size    uint64
	highest uint64
	seen    []uint64
}

// NewReplayWindow creates a window admitting size out-of-order
// sequences. Negative sizes are treated as 0.
func NewReplayWindow(size int) *ReplayWindow {
	if size < 0 {
		size = 0
	}
	return &ReplayWindow{
		size: uint64(size),
		seen: make([]uint64, (size+63)/64),
	}
}

// Highest returns the largest accepted sequence, or 0 before the first.
func (w *ReplayWindow) Highest() uint64 { return w.highest }

// Check reports whether sequence would be accepted, without recording
// it.
func (w *ReplayWindow) Check(sequence uint64) bool {
	switch {
	case sequence == 0:
		return false
	case sequence > w.highest:
		return true
	case w.size == 0:
		return false
	case w.highest-sequence >= w.size:
		return false
	default:
		return !w.bit(sequence)
	}
}

// Accept records sequence and reports whether it was new. Call it only
// for envelopes that authenticated.
func (w *ReplayWindow) Accept(sequence uint64) bool {
	if !w.Check(sequence) {
		return false
	}
	if w.size == 0 {
		w.highest = sequence
		return true
	}
	if sequence > w.highest {
		if sequence-w.highest >= w.size {
			clear(w.seen)
		} else {
			for s := w.highest + 1; s < sequence; s++ {
				w.setBit(s, false)
			}
		}
		w.highest = sequence
	}
	w.setBit(sequence, true)
	return true
}

func (w *ReplayWindow) bit(sequence uint64) bool {
	index := sequence % w.size
	return w.seen[index/64]&(1<<(index%64)) != 0
}

func (w *ReplayWindow) setBit(sequence uint64, value bool) {
	index := sequence % w.size
	if value {
		w.seen[index/64] |= 1 << (index % 64)
	} else {
		w.seen[index/64] &^= 1 << (index % 64)
	}
}
