// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"errors"
	"net/netip"
	"time"

	"github.com/resonance-mesh/resonance/handshake"
	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/lib/secret"
	"github.com/resonance-mesh/resonance/protocol"
	"github.com/resonance-mesh/resonance/room"
)

// deliver handles one authenticated message from l. It runs on the
// channel's receive task.
func (n *Node) deliver(l *peerLink, body protocol.Body) {
	if n.isGuest(l) {
		if request, ok := body.(*protocol.JoinRequest); ok {
			n.handleJoinRequest(l, request)
			return
		}
		n.logger.Debug("ignoring message from guest", "peer", l.peer.Short(), "type", body.MessageType())
		return
	}

	switch message := body.(type) {
	case *protocol.JoinApproved:
		n.handleJoinApproved(l, message)
		return
	case *protocol.JoinDenied:
		n.handleJoinDenied(l, message)
		return
	}

	current, roomID, err := n.current()
	if err != nil {
		n.logger.Debug("ignoring message outside a room", "peer", l.peer.Short(), "type", body.MessageType())
		return
	}
	if err := current.Touch(n.ctx, l.peer); err != nil {
		return
	}

	switch message := body.(type) {
	case *protocol.PeerListGossip:
		n.handleGossip(current, roomID, l, message)
	case *protocol.LeaveNotice:
		if _, err := current.Leave(n.ctx, l.peer, leaveReason(message)); err != nil && !errors.Is(err, room.ErrNotMember) {
			n.logger.Warn("applying leave notice", "peer", l.peer.Short(), "error", err)
		}
		n.detach(l.peer)
	case *protocol.JoinRequest:
		n.logger.Debug("ignoring join request from a member", "peer", l.peer.Short())
	default:
		handled, err := n.relay.Handle(l.peer, body)
		if err != nil {
			n.logger.Warn("signaling message failed", "peer", l.peer.Short(), "type", body.MessageType(), "error", err)
		}
		if !handled {
			n.logger.Debug("ignoring unexpected message", "peer", l.peer.Short(), "type", body.MessageType())
		}
	}
}

func leaveReason(notice *protocol.LeaveNotice) string {
	if notice.Reason == "" {
		return "left"
	}
	return notice.Reason
}

// handleJoinRequest records a guest's request with the room.
func (n *Node) handleJoinRequest(l *peerLink, request *protocol.JoinRequest) {
	current, _, err := n.current()
	if err != nil {
		n.closeGuest(l.peer, protocol.DenyRejected)
		return
	}
	address := parseAddress(request.Address)
	if !address.IsValid() {
		address = l.channel.Address()
	}
	_, err = current.RequestJoin(n.ctx, room.JoinRequest{
		Requester: l.peer,
		Name:      request.Name,
		Address:   address,
		LinkID:    l.linkID,
	})
	switch {
	case err == nil:
	case errors.Is(err, room.ErrRoomFull):
		n.closeGuest(l.peer, protocol.DenyRoomFull)
	default:
		n.logger.Warn("join request refused", "peer", l.peer.Short(), "error", err)
		n.closeGuest(l.peer, protocol.DenyRejected)
	}
}

// handleJoinApproved completes a pending JoinViaLink when it comes from
// the inviter, and otherwise merges the newcomer announced by another
// member.
func (n *Node) handleJoinApproved(l *peerLink, message *protocol.JoinApproved) {
	n.mu.Lock()
	joining := n.joining
	n.mu.Unlock()

	if joining != nil && joining.inviter == l.peer {
		n.completeJoin(joining, message)
		return
	}
	secret.Zero(message.MeshSecret)

	current, roomID, err := n.current()
	if err != nil {
		return
	}
	if err := current.Touch(n.ctx, l.peer); err != nil {
		return
	}
	if _, err := current.Merge(n.ctx, roomID, peersFromInfo(message.Peers), nil); err != nil {
		n.logger.Warn("merging approved member", "from", l.peer.Short(), "error", err)
	}
}

func (n *Node) completeJoin(joining *joinAttempt, message *protocol.JoinApproved) {
	if message.RoomID != joining.roomID || len(message.MeshSecret) != handshake.KeySize {
		secret.Zero(message.MeshSecret)
		n.logger.Warn("malformed JoinApproved from inviter", "inviter", joining.inviter.Short())
		return
	}
	meshSecret, err := secret.NewFromBytes(message.MeshSecret)
	if err != nil {
		n.finishJoin(joining, err)
		return
	}
	n.checkLocked(meshSecret)

	adopted := n.newRoom()
	members := peersFromInfo(message.Peers)
	members = append(members, n.selfPeer())
	if err := adopted.Adopt(n.ctx, message.RoomID, members); err != nil {
		adopted.Close()
		meshSecret.Close()
		n.finishJoin(joining, err)
		return
	}

	n.mu.Lock()
	if n.joining != joining || n.closed {
		n.mu.Unlock()
		adopted.Close()
		meshSecret.Close()
		return
	}
	n.room = adopted
	n.roomID = message.RoomID
	n.meshSecret = meshSecret
	n.joining = nil
	n.mu.Unlock()

	n.startPump(adopted)
	n.logger.Info("joined room", "room", message.RoomID, "inviter", joining.inviter.Short(), "members", len(members))
	n.finishJoin(joining, nil)

	// The newcomer dials every existing member so the mesh is complete.
	n.beginMedia(joining.inviter)
	for _, member := range members {
		if member.ID != n.self && member.ID != joining.inviter {
			n.dial(member, dialJoin)
		}
	}
}

func (n *Node) handleJoinDenied(l *peerLink, message *protocol.JoinDenied) {
	n.mu.Lock()
	joining := n.joining
	if joining == nil || joining.inviter != l.peer {
		n.mu.Unlock()
		n.logger.Debug("ignoring JoinDenied outside a join", "peer", l.peer.Short())
		return
	}
	n.joining = nil
	n.mu.Unlock()

	n.detach(l.peer)
	n.finishJoin(joining, &JoinDeniedError{Reason: message.Reason})
}

func (n *Node) finishJoin(joining *joinAttempt, err error) {
	select {
	case joining.result <- err:
	default:
	}
}

// handleGossip merges a member's view and dials the members it taught
// us about.
func (n *Node) handleGossip(current *room.Room, roomID ref.RoomID, l *peerLink, message *protocol.PeerListGossip) {
	result, err := current.Merge(n.ctx, message.RoomID, peersFromInfo(message.Peers), departuresFromWire(message.Departed))
	if err != nil {
		n.logger.Warn("merging gossip", "from", l.peer.Short(), "room", roomID, "error", err)
		return
	}
	for _, added := range result.Added {
		n.logger.Info("member learned from gossip", "peer", added.ID.Short(), "from", l.peer.Short())
		n.dial(added, dialGossip)
	}
}

func peerInfo(peer room.Peer) protocol.PeerInfo {
	info := protocol.PeerInfo{ID: peer.ID, Name: peer.Name, Joined: unixNano(peer.JoinedAt)}
	if peer.Address.IsValid() {
		info.Address = peer.Address.String()
	}
	return info
}

func peerInfos(peers []room.Peer) []protocol.PeerInfo {
	infos := make([]protocol.PeerInfo, len(peers))
	for i, peer := range peers {
		infos[i] = peerInfo(peer)
	}
	return infos
}

func peersFromInfo(infos []protocol.PeerInfo) []room.Peer {
	peers := make([]room.Peer, 0, len(infos))
	for _, info := range infos {
		if info.ID.IsZero() {
			continue
		}
		peers = append(peers, room.Peer{
			ID:       info.ID,
			Name:     info.Name,
			Address:  parseAddress(info.Address),
			JoinedAt: fromUnixNano(info.Joined),
		})
	}
	return peers
}

func departuresToWire(departed []room.Departure) []protocol.Departure {
	wire := make([]protocol.Departure, len(departed))
	for i, departure := range departed {
		wire[i] = protocol.Departure{ID: departure.ID, Joined: unixNano(departure.JoinedAt)}
	}
	return wire
}

func departuresFromWire(wire []protocol.Departure) []room.Departure {
	departed := make([]room.Departure, 0, len(wire))
	for _, departure := range wire {
		if departure.ID.IsZero() {
			continue
		}
		departed = append(departed, room.Departure{ID: departure.ID, JoinedAt: fromUnixNano(departure.Joined)})
	}
	return departed
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func parseAddress(raw string) netip.AddrPort {
	address, err := netip.ParseAddrPort(raw)
	if err != nil || address.Port() == 0 {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(address.Addr().Unmap(), address.Port())
}
