// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/resonance-mesh/resonance/handshake"
	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/lib/secret"
	"github.com/resonance-mesh/resonance/link"
	"github.com/resonance-mesh/resonance/protocol"
	"github.com/resonance-mesh/resonance/room"
)

// ErrNoChannel is returned by ApproveRequest when the requester's
// channel closed before the approval could be delivered.
var ErrNoChannel = errors.New("requester channel is gone")

// checkLocked notes a mesh secret the kernel would not pin in memory.
func (n *Node) checkLocked(meshSecret *secret.Buffer) {
	if !meshSecret.Locked() {
		n.logger.Info("mesh secret is not locked in memory and may be swapped to disk")
	}
}

// CreateRoom founds a new room with this node as its only member.
func (n *Node) CreateRoom(ctx context.Context) (ref.RoomID, error) {
	if err := n.idle(); err != nil {
		return ref.RoomID{}, err
	}
	meshSecret, err := secret.Random(handshake.KeySize)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("generating mesh secret: %w", err)
	}
	n.checkLocked(meshSecret)
	created := n.newRoom()
	roomID, err := created.Create(ctx, n.selfPeer())
	if err != nil {
		created.Close()
		meshSecret.Close()
		return ref.RoomID{}, err
	}

	n.mu.Lock()
	if n.closed || n.room != nil || n.joining != nil {
		closed := n.closed
		n.mu.Unlock()
		created.Close()
		meshSecret.Close()
		if closed {
			return ref.RoomID{}, ErrClosed
		}
		return ref.RoomID{}, ErrAlreadyInRoom
	}
	n.room = created
	n.roomID = roomID
	n.meshSecret = meshSecret
	n.mu.Unlock()

	n.startPump(created)
	n.logger.Info("room created", "room", roomID)
	return roomID, nil
}

// idle reports whether the node may create or join a room.
func (n *Node) idle() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case n.closed:
		return ErrClosed
	case n.room != nil, n.joining != nil:
		return ErrAlreadyInRoom
	}
	return nil
}

// GenerateLink issues a single-use join link into the current room.
func (n *Node) GenerateLink(ctx context.Context) (string, error) {
	_, roomID, err := n.current()
	if err != nil {
		return "", err
	}
	issued, err := n.issuer.Issue(roomID, n.advertise)
	if err != nil {
		return "", fmt.Errorf("issuing join link: %w", err)
	}
	return link.Encode(issued)
}

// JoinViaLink handshakes with the inviter named by token, asks to join,
// and waits for the decision. A denial returns a *JoinDeniedError.
func (n *Node) JoinViaLink(ctx context.Context, token string) (ref.RoomID, error) {
	joinLink, err := link.Decode(token)
	if err != nil {
		return ref.RoomID{}, err
	}
	if err := n.idle(); err != nil {
		return ref.RoomID{}, err
	}

	linkSecret, err := secret.NewFromBytes(bytes.Clone(joinLink.Secret[:]))
	if err != nil {
		return ref.RoomID{}, err
	}
	session, err := n.engine.Initiate(ctx, handshake.Target{
		Address: joinLink.InviterAddress,
		RoomID:  joinLink.RoomID,
		Secret:  linkSecret,
		LinkKey: joinLink.InviterKey[:],
	})
	linkSecret.Close()
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, handshake.ErrClosed) {
			n.emit(Event{Kind: failureKind(err), Address: joinLink.InviterAddress, Err: err})
		}
		return ref.RoomID{}, fmt.Errorf("handshake with inviter %s: %w", joinLink.InviterAddress, err)
	}

	attempt := &joinAttempt{inviter: session.Peer, roomID: joinLink.RoomID, result: make(chan error, 1)}
	n.mu.Lock()
	if n.closed || n.room != nil || n.joining != nil {
		n.mu.Unlock()
		session.Close()
		return ref.RoomID{}, ErrAlreadyInRoom
	}
	n.joining = attempt
	n.mu.Unlock()

	inviter, err := n.attach(session, false)
	if err != nil {
		n.abandonJoin(attempt)
		session.Close()
		return ref.RoomID{}, err
	}
	n.logger.Info("requesting to join", "room", joinLink.RoomID, "inviter", session.Peer.Short(), "link", joinLink.ID())
	n.send(inviter, &protocol.JoinRequest{Name: n.config.DisplayName, Address: n.advertise.String()})

	deadline := n.clock.After(n.config.Room.JoinRequestTTL + n.config.Handshake.Timeout)
	select {
	case err := <-attempt.result:
		return n.joinResult(attempt, err)
	case <-deadline:
		if n.abandonJoin(attempt) {
			return n.joinResult(attempt, <-attempt.result)
		}
		return n.joinResult(attempt, &JoinDeniedError{Reason: protocol.DenyTimeout})
	case <-ctx.Done():
		if n.abandonJoin(attempt) {
			return n.joinResult(attempt, <-attempt.result)
		}
		return ref.RoomID{}, ctx.Err()
	}
}

// abandonJoin withdraws attempt and closes the inviter channel. It
// reports true when the attempt already completed, in which case the
// result is waiting on attempt.result.
func (n *Node) abandonJoin(attempt *joinAttempt) bool {
	n.mu.Lock()
	if n.joining != attempt {
		n.mu.Unlock()
		return true
	}
	n.joining = nil
	n.mu.Unlock()
	n.detach(attempt.inviter)
	return false
}

func (n *Node) joinResult(attempt *joinAttempt, err error) (ref.RoomID, error) {
	if err == nil {
		return attempt.roomID, nil
	}
	n.abandonJoin(attempt)
	var denied *JoinDeniedError
	if errors.As(err, &denied) {
		n.emit(Event{Kind: EventJoinDenied, Peer: attempt.inviter, Reason: string(denied.Reason), Err: err})
	}
	return ref.RoomID{}, err
}

// ApproveRequest admits a pending requester. The new member receives
// the member list and mesh secret; every other member learns of it.
func (n *Node) ApproveRequest(ctx context.Context, id ref.RequestID) error {
	current, roomID, err := n.current()
	if err != nil {
		return err
	}
	result, err := current.Approve(ctx, id)
	if err != nil {
		return err
	}
	newcomer := result.Member.ID

	n.mu.Lock()
	l := n.links[newcomer]
	if l != nil {
		l.guest = false
	}
	var material []byte
	if n.meshSecret != nil {
		material = bytes.Clone(n.meshSecret.Bytes())
	}
	n.mu.Unlock()
	defer secret.Zero(material)

	if l == nil || material == nil {
		if _, err := current.Evict(ctx, newcomer, "unreachable"); err != nil && !errors.Is(err, room.ErrNotMember) {
			n.logger.Warn("removing unreachable member", "peer", newcomer.Short(), "error", err)
		}
		return fmt.Errorf("%w: %s", ErrNoChannel, newcomer.Short())
	}

	members := peerInfos(result.Members)
	member := peerInfo(result.Member)
	n.send(l, &protocol.JoinApproved{RoomID: roomID, Member: member, Peers: members, MeshSecret: material})
	for _, existing := range result.Members {
		if existing.ID == n.self || existing.ID == newcomer {
			continue
		}
		if other := n.link(existing.ID); other != nil && !n.isGuest(other) {
			n.send(other, &protocol.JoinApproved{RoomID: roomID, Member: member, Peers: members})
		}
	}
	n.logger.Info("join request approved", "request", id, "peer", newcomer.Short(), "members", len(result.Members))
	n.beginMedia(newcomer)
	return nil
}

// DenyRequest refuses a pending requester and closes its channel.
func (n *Node) DenyRequest(ctx context.Context, id ref.RequestID) error {
	current, _, err := n.current()
	if err != nil {
		return err
	}
	request, err := current.Deny(ctx, id)
	if err != nil {
		return err
	}
	n.logger.Info("join request denied", "request", id, "peer", request.Requester.ID.Short())
	n.closeGuest(request.Requester.ID, protocol.DenyRejected)
	return nil
}

// Leave notifies every connected member and tears the room down. The
// node may create or join another room afterwards.
func (n *Node) Leave(ctx context.Context) error {
	if _, _, err := n.current(); err != nil {
		return err
	}
	n.mu.Lock()
	links := make([]*peerLink, 0, len(n.links))
	for _, l := range n.links {
		links = append(links, l)
	}
	n.mu.Unlock()

	for _, l := range links {
		if n.isGuest(l) {
			n.send(l, &protocol.JoinDenied{Reason: protocol.DenyRejected})
			continue
		}
		n.send(l, &protocol.LeaveNotice{Reason: "left"})
	}
	n.issuer.Close()
	n.reset()
	n.logger.Info("left room")
	return nil
}

// Members returns the current member list, self included.
func (n *Node) Members(ctx context.Context) ([]room.Peer, error) {
	snapshot, err := n.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Members, nil
}

// Snapshot returns a copy of the room state.
func (n *Node) Snapshot(ctx context.Context) (room.Snapshot, error) {
	current, _, err := n.current()
	if err != nil {
		return room.Snapshot{}, err
	}
	return current.Snapshot(ctx)
}
