// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Every timed behavior of a Resonance node (handshake attempt timeouts,
// gossip rounds, peer liveness, join request expiry) reads time through
// a [Clock]. Production wiring passes [Real]; tests pass a [FakeClock]
// and drive it explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	engine := handshake.New(handshake.Config{Clock: fake, ...})
//	go engine.Initiate(ctx, address, params)
//	fake.WaitForTimers(1)             // attempt timer registered
//	fake.Advance(10 * time.Second)    // attempt times out
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
