// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import "testing"

func TestReplayWindow(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		sequence []uint64
		want     []bool
	}{
		{
			name:     "strict in order",
			size:     0,
			sequence: []uint64{1, 2, 3, 5},
			want:     []bool{true, true, true, true},
		},
		{
			name:     "strict rejects duplicate and late",
			size:     0,
			sequence: []uint64{1, 3, 3, 2, 4},
			want:     []bool{true, true, false, false, true},
		},
		{
			name:     "zero is never valid",
			size:     8,
			sequence: []uint64{0, 1, 0},
			want:     []bool{false, true, false},
		},
		{
			name:     "window admits late once",
			size:     4,
			sequence: []uint64{1, 4, 2, 3, 2, 3},
			want:     []bool{true, true, true, true, false, false},
		},
		{
			name:     "window rejects below floor",
			size:     4,
			sequence: []uint64{10, 7, 6, 11, 7},
			want:     []bool{true, true, false, true, false},
		},
		{
			name:     "large jump clears window",
			size:     4,
			sequence: []uint64{1, 2, 100, 99, 98, 97, 96, 99},
			want:     []bool{true, true, true, true, true, true, false, false},
		},
		{
			name:     "slot reuse after advance",
			size:     4,
			sequence: []uint64{1, 2, 3, 4, 5, 6, 5, 3},
			want:     []bool{true, true, true, true, true, true, false, false},
		},
		{
			name:     "window wider than one word",
			size:     100,
			sequence: []uint64{200, 101, 150, 101, 100},
			want:     []bool{true, true, true, false, false},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			window := NewReplayWindow(test.size)
			for i, sequence := range test.sequence {
				if got := window.Accept(sequence); got != test.want[i] {
					t.Errorf("Accept(%d) at step %d = %v, want %v", sequence, i, got, test.want[i])
				}
			}
		})
	}
}

func TestReplayWindow_CheckDoesNotRecord(t *testing.T) {
	window := NewReplayWindow(0)
	if !window.Check(1) || !window.Check(1) {
		t.Fatal("Check(1) on a fresh window = false")
	}
	if window.Highest() != 0 {
		t.Errorf("Highest after Check = %d, want 0", window.Highest())
	}
	window.Accept(1)
	if window.Check(1) {
		t.Error("Check(1) after Accept(1) = true")
	}
}
