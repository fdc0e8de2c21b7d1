// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

// Package room holds the authoritative local view of one room: its
// RoomID, its members, and the join requests awaiting a decision.
//
// A [Room] is an actor. One goroutine owns the state and applies
// commands strictly one at a time; every exported method sends a
// command and waits for its result, so two concurrent Approve calls on
// the same request cannot both succeed. Membership changes are
// published on an ordered event stream ([Room.Events]) that never
// blocks the actor.
//
// The member set never exceeds [MaxMembers]. A join request that
// arrives when the room is full is refused with [ErrRoomFull] and
// changes nothing. Each pending request resolves to exactly one
// outcome (approved, denied, or timed out); later decisions on it
// report [ErrUnknownRequest].
//
// Departed peers leave a tombstone so that a stale gossip view cannot
// bring them back. A tombstone names the membership it ended by its
// JoinedAt, and a later admission of the same peer outranks it, so a
// peer that leaves can be approved again. Only announced departures
// ([Room.Leave]) are meant to be gossiped. Removals by local failure
// detection ([Room.Evict]) stay local and expire after a hold.
package room
