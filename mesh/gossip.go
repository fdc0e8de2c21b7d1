// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"bytes"
	"context"
	"errors"

	"github.com/resonance-mesh/resonance/handshake"
	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/lib/secret"
	"github.com/resonance-mesh/resonance/protocol"
	"github.com/resonance-mesh/resonance/room"
)

// dialReason says why a member is dialed.
type dialReason uint8

const (
	// dialJoin completes the mesh after this node was approved.
	dialJoin dialReason = iota
	// dialGossip reaches a member without a channel.
	dialGossip
	// dialSuspect retries a member evicted by failure detection.
	dialSuspect
)

func (n *Node) newRoom() *room.Room {
	return room.New(room.Config{
		Self:        n.self,
		RequestTTL:  n.config.Room.JoinRequestTTL,
		SuspectHold: n.config.Gossip.SuspectHold,
		Clock:      n.clock,
		Logger:     n.base,
		Metrics:    n.metrics,
	})
}

// startPump forwards room events until the room is closed.
func (n *Node) startPump(r *room.Room) {
	n.tasks.Add(1)
	go func() {
		defer n.tasks.Done()
		for event := range r.Events() {
			n.roomEvent(event)
		}
	}()
}

func (n *Node) roomEvent(event room.Event) {
	switch event := event.(type) {
	case room.JoinRequestReceived:
		requester := event.Request.Requester
		n.emit(Event{
			Kind:    EventJoinRequestReceived,
			Peer:    requester.ID,
			Name:    requester.Name,
			Address: requester.Address,
			Request: event.Request.ID,
		})

	case room.RequestResolved:
		if event.Outcome != room.TimedOut {
			return
		}
		n.closeGuest(event.Request.Requester.ID, protocol.DenyTimeout)
		n.emit(Event{
			Kind:    EventJoinRequestExpired,
			Peer:    event.Request.Requester.ID,
			Name:    event.Request.Requester.Name,
			Request: event.Request.ID,
		})

	case room.PeerJoined:
		if event.Peer.ID == n.self {
			return
		}
		n.emit(Event{Kind: EventPeerJoined, Peer: event.Peer.ID, Name: event.Peer.Name, Address: event.Peer.Address})
		if l := n.link(event.Peer.ID); l != nil && !n.isGuest(l) {
			n.beginMedia(event.Peer.ID)
		}

	case room.PeerLeft:
		n.detach(event.Peer.ID)
		n.emit(Event{Kind: EventPeerLeft, Peer: event.Peer.ID, Name: event.Peer.Name, Reason: event.Reason})

	case room.PeerListUpdated:
		n.emit(Event{Kind: EventPeerListUpdated, Members: event.Members})
	}
}

// dial starts a mesh handshake with peer unless a channel or a dial to
// it already exists.
func (n *Node) dial(peer room.Peer, reason dialReason) {
	if peer.ID == n.self || !peer.Address.IsValid() {
		return
	}
	n.mu.Lock()
	if n.closed || n.meshSecret == nil || n.links[peer.ID] != nil || n.dialing[peer.ID] {
		n.mu.Unlock()
		return
	}
	material := bytes.Clone(n.meshSecret.Bytes())
	roomID := n.roomID
	n.dialing[peer.ID] = true
	n.tasks.Add(1)
	n.mu.Unlock()

	if reason != dialJoin {
		n.metrics.ObserveGossipReconnect()
	}
	go func() {
		defer n.tasks.Done()
		defer n.dialDone(peer.ID)

		meshSecret, err := secret.NewFromBytes(material)
		if err != nil {
			n.logger.Error("copying mesh secret", "error", err)
			return
		}
		defer meshSecret.Close()

		n.logger.Debug("dialing member", "peer", peer.ID.Short(), "address", peer.Address)
		session, err := n.engine.Initiate(n.ctx, handshake.Target{
			Address: peer.Address,
			RoomID:  roomID,
			Secret:  meshSecret,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, handshake.ErrClosed) {
				return
			}
			if reason == dialSuspect {
				n.logger.Debug("evicted member still unreachable", "peer", peer.ID.Short(), "error", err)
				return
			}
			n.emit(Event{Kind: failureKind(err), Peer: peer.ID, Address: peer.Address, Err: err})
			return
		}
		if session.Peer != peer.ID {
			n.logger.Warn("member address answered by another peer",
				"expected", peer.ID.Short(),
				"answered", session.Peer.Short(),
				"address", peer.Address,
			)
		}
		n.admitMeshSession(session)
	}()
}

func (n *Node) dialDone(peer ref.PeerID) {
	n.mu.Lock()
	delete(n.dialing, peer)
	n.mu.Unlock()
}

func (n *Node) gossipLoop(ctx context.Context) {
	ticker := n.clock.NewTicker(n.config.Gossip.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.gossipRound(ctx)
		}
	}
}

// gossipRound sends the member list to every connected member and
// evicts silent members. It dials unconnected members and suspects, and
// drops guests that never asked to join.
func (n *Node) gossipRound(ctx context.Context) {
	current, roomID, err := n.current()
	if err != nil {
		return
	}
	snapshot, err := current.Snapshot(ctx)
	if err != nil {
		return
	}
	n.metrics.ObserveGossipRound()
	now := n.clock.Now()

	message := &protocol.PeerListGossip{
		RoomID:   roomID,
		Peers:    peerInfos(snapshot.Members),
		Departed: departuresToWire(snapshot.Departed),
	}
	for _, member := range snapshot.Members {
		if member.ID == n.self {
			continue
		}
		if now.Sub(member.LastSeen) > n.config.Gossip.PeerTimeout {
			n.logger.Info("member timed out", "peer", member.ID.Short(), "last_seen", member.LastSeen)
			if _, err := current.Evict(ctx, member.ID, "timed out"); err != nil && !errors.Is(err, room.ErrNotMember) {
				n.logger.Warn("removing silent member", "peer", member.ID.Short(), "error", err)
			}
			continue
		}
		if l := n.link(member.ID); l != nil && !n.isGuest(l) {
			n.send(l, message)
			continue
		}
		n.dial(member, dialGossip)
	}
	for _, suspect := range snapshot.Suspects {
		n.dial(suspect, dialSuspect)
	}

	requesters := make(map[ref.PeerID]bool, len(snapshot.Pending))
	for _, request := range snapshot.Pending {
		requesters[request.Requester.ID] = true
	}
	var idle []ref.PeerID
	n.mu.Lock()
	for peer, l := range n.links {
		if l.guest && !requesters[peer] && now.Sub(l.created) > n.config.Room.JoinRequestTTL {
			idle = append(idle, peer)
		}
	}
	n.mu.Unlock()
	for _, peer := range idle {
		n.logger.Info("dropping guest that never requested to join", "peer", peer.Short())
		n.closeGuest(peer, protocol.DenyTimeout)
	}
}
