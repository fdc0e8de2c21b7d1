// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package a node uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. C has capacity 1; ticks the
// consumer is too slow for are dropped, as with time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() { t.stop() }
