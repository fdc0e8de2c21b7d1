// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// Fake returns a FakeClock reading initial. Time stands still until
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{current: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

type pendingTimer struct {
	deadline time.Time
	channel  chan time.Time
	// interval is non-zero for tickers, which are rescheduled after
	// each firing instead of being dropped.
	interval time.Duration
	stopped  bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock has been
// advanced by at least d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.addLocked(&pendingTimer{deadline: c.current.Add(d), channel: channel})
	return channel
}

// NewTicker returns a Ticker that fires each time the clock crosses a
// multiple of d from now.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &pendingTimer{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.addLocked(timer)
	return &Ticker{
		C: timer.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			timer.stopped = true
			c.changed.Broadcast()
		},
	}
}

// Advance moves the clock forward by d, firing every timer whose
// deadline is reached in deadline order. A ticker spanning several
// intervals fires once per interval; ticks that find C full are
// dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.current.Add(d)
	for {
		next := c.earliestLocked(target)
		if next == nil {
			break
		}
		c.current = next.deadline
		select {
		case next.channel <- next.deadline:
		default:
		}
		if next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
		} else {
			next.stopped = true
		}
	}
	c.current = target
	c.compactLocked()
}

// WaitForTimers blocks until at least n timers or tickers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.countLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of timers and tickers that have not
// fired (one-shot) or been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countLocked()
}

func (c *FakeClock) addLocked(timer *pendingTimer) {
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()
}

func (c *FakeClock) earliestLocked(target time.Time) *pendingTimer {
	var earliest *pendingTimer
	for _, timer := range c.pending {
		if timer.stopped || timer.deadline.After(target) {
			continue
		}
		if earliest == nil || timer.deadline.Before(earliest.deadline) {
			earliest = timer
		}
	}
	return earliest
}

func (c *FakeClock) compactLocked() {
	c.pending = slices.DeleteFunc(c.pending, func(timer *pendingTimer) bool {
		return timer.stopped
	})
}

func (c *FakeClock) countLocked() int {
	count := 0
	for _, timer := range c.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}
