// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Resonance packages.
//
// [RequireReceive] and [RequireClosed] wrap the select
// with a wall-clock fallback so a wedged goroutine fails the test
// instead of hanging it. [Eventually] polls a condition for tests that
// wait on convergence across several nodes, such as gossip spreading a
// member list. These are the only places in the test suite that rely
// on real time; everything else takes a clock.FakeClock.
//
// All helpers call t.Fatalf on failure.
package testutil
