// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package room

import "errors"

var (
	// ErrRoomFull is returned when admitting a peer would exceed
	// MaxMembers. The room is unchanged.
	ErrRoomFull = errors.New("room is full")

	// ErrJoinDenied is returned to a requester whose join request was
	// refused.
	ErrJoinDenied = errors.New("join denied")

	// ErrUnknownRequest is returned for a decision on a request that
	// does not exist or has already been resolved.
	ErrUnknownRequest = errors.New("unknown or already resolved join request")

	// ErrNoRoom is returned by operations that need a RoomID before
	// Create or Adopt has set one.
	ErrNoRoom = errors.New("room not created")

	// ErrRoomExists is returned by Create or Adopt once the RoomID is set.
	ErrRoomExists = errors.New("room already created")

	// ErrWrongRoom is returned for input naming a different RoomID.
	ErrWrongRoom = errors.New("message is for a different room")

	// ErrAlreadyMember is returned for a join request from a member.
	ErrAlreadyMember = errors.New("peer is already a member")

	// ErrNotMember is returned by Leave for a peer that is not a member.
	ErrNotMember = errors.New("peer is not a member")

	// ErrDeparted is returned by Readmit for a peer whose departure
	// was announced and that has not been admitted again since.
	ErrDeparted = errors.New("peer has departed")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("room is closed")
)
