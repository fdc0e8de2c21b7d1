// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"errors"
	"fmt"
	"time"

	"github.com/resonance-mesh/resonance/channel"
	"github.com/resonance-mesh/resonance/handshake"
	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/link"
	"github.com/resonance-mesh/resonance/protocol"
	"github.com/resonance-mesh/resonance/room"
	"github.com/resonance-mesh/resonance/signaling"
)

// peerLink is the secure channel to one peer.
type peerLink struct {
	peer    ref.PeerID
	channel *channel.Channel
	created time.Time

	// linkID names the join link a guest arrived through.
	linkID string

	// guest is set for a joiner whose request is undecided. Guarded by
	// Node.mu.
	guest bool
}

// attach opens a channel over session and registers it, replacing any
// previous channel to the same peer.
func (n *Node) attach(session *handshake.Session, guest bool) (*peerLink, error) {
	l := &peerLink{peer: session.Peer, created: n.clock.Now(), linkID: session.LinkID, guest: guest}
	ch, err := channel.New(channel.Config{
		Self:         n.self,
		Peer:         session.Peer,
		Address:      session.Address,
		Key:          session.Key,
		Transport:    n.endpoint,
		ReplayWindow: n.config.Channel.ReplayWindow,
		SendRetries:  n.config.Channel.SendRetries,
		Clock:        n.clock,
		Logger:       n.logger,
		Metrics:      n.metrics,
		Deliver:      func(peer ref.PeerID, body protocol.Body) { n.deliver(l, body) },
		Reject:       n.envelopeRejected,
		Fail:         func(peer ref.PeerID, err error) { n.channelFailed(l, err) },
	})
	if err != nil {
		return nil, fmt.Errorf("opening channel to %s: %w", session.Peer.Short(), err)
	}
	l.channel = ch

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		ch.Close()
		return nil, ErrClosed
	}
	previous := n.links[session.Peer]
	if previous != nil {
		delete(n.byAddress, previous.channel.Address())
		// A re-handshake with a peer that was already admitted keeps
		// its standing.
		l.guest = l.guest && previous.guest
	}
	if other := n.byAddress[session.Address]; other != nil && other != previous {
		delete(n.links, other.peer)
		defer other.channel.Close()
	}
	n.links[session.Peer] = l
	n.byAddress[session.Address] = l
	n.mu.Unlock()

	if previous != nil {
		previous.channel.Close()
	}
	n.logger.Info("channel established",
		"peer", session.Peer.Short(),
		"address", session.Address,
		"role", session.Role,
		"guest", l.guest,
	)
	return l, nil
}

// accept receives responder-side sessions from the handshake engine.
func (n *Node) accept(session *handshake.Session) {
	if session.LinkID != "" {
		if _, err := n.attach(session, true); err != nil {
			n.logger.Warn("dropping link session", "peer", session.Peer.Short(), "error", err)
		}
		return
	}
	n.admitMeshSession(session)
}

// admitMeshSession attaches a session authenticated with the mesh
// secret. Holding the secret proves an earlier approval, so an unknown
// or evicted peer is readmitted unless it announced its departure.
func (n *Node) admitMeshSession(session *handshake.Session) {
	current, roomID, err := n.current()
	if err != nil || roomID != session.RoomID {
		n.logger.Warn("dropping mesh session outside the current room", "peer", session.Peer.Short())
		session.Close()
		return
	}
	if _, err := current.Readmit(n.ctx, roomID, room.Peer{ID: session.Peer, Address: session.Address}); err != nil {
		n.logger.Warn("refusing mesh session", "peer", session.Peer.Short(), "error", err)
		session.Close()
		return
	}
	if _, err := n.attach(session, false); err != nil {
		n.logger.Warn("dropping mesh session", "peer", session.Peer.Short(), "error", err)
		return
	}
	n.beginMedia(session.Peer)
}

// detach closes the channel and media for peer.
func (n *Node) detach(peer ref.PeerID) {
	n.mu.Lock()
	l := n.links[peer]
	if l != nil {
		delete(n.links, peer)
		if n.byAddress[l.channel.Address()] == l {
			delete(n.byAddress, l.channel.Address())
		}
	}
	n.mu.Unlock()
	if l != nil {
		l.channel.Close()
	}
	if err := n.relay.End(peer); err != nil {
		n.logger.Debug("ending media", "peer", peer.Short(), "error", err)
	}
}

func (n *Node) link(peer ref.PeerID) *peerLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.links[peer]
}

func (n *Node) isGuest(l *peerLink) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return l.guest
}

// SendTo implements signaling.Sender. Only admitted peers are
// reachable.
func (n *Node) SendTo(peer ref.PeerID, body protocol.Body) error {
	n.mu.Lock()
	l := n.links[peer]
	guest := l != nil && l.guest
	n.mu.Unlock()
	if l == nil || guest {
		return fmt.Errorf("no channel to %s", peer.Short())
	}
	return l.channel.Send(body)
}

// send queues body on l, logging failures.
func (n *Node) send(l *peerLink, body protocol.Body) {
	if err := l.channel.Send(body); err != nil {
		n.logger.Warn("send failed", "peer", l.peer.Short(), "type", body.MessageType(), "error", err)
	}
}

func (n *Node) beginMedia(peer ref.PeerID) {
	if err := n.relay.Begin(peer); err != nil {
		n.logger.Warn("starting media negotiation", "peer", peer.Short(), "error", err)
	}
}

// channelFailed evicts the peer locally. The eviction is not gossiped,
// so members still connected to the peer keep it.
func (n *Node) channelFailed(l *peerLink, err error) {
	n.mu.Lock()
	registered := n.links[l.peer] == l
	n.mu.Unlock()
	if !registered {
		return
	}
	n.emit(Event{Kind: EventConnectionFailed, Peer: l.peer, Address: l.channel.Address(), Err: err})
	n.detach(l.peer)

	current, _, roomErr := n.current()
	if roomErr != nil {
		return
	}
	if _, evictErr := current.Evict(n.ctx, l.peer, "channel failed"); evictErr != nil && !errors.Is(evictErr, room.ErrNotMember) {
		n.logger.Warn("removing failed peer", "peer", l.peer.Short(), "error", evictErr)
	}
}

func (n *Node) envelopeRejected(peer ref.PeerID, err error) {
	n.emit(Event{Kind: EventSecurityAlert, Peer: peer, Err: err})
}

// handshakeAlert receives responder-side handshake failures.
func (n *Node) handshakeAlert(failure handshake.Failure) {
	n.emit(Event{Kind: failureKind(failure.Err), Address: failure.Address, Err: failure})
}

// failureKind classifies a handshake error for the UI.
func failureKind(err error) EventKind {
	switch {
	case errors.Is(err, handshake.ErrHandshakeAuthFailure), errors.Is(err, link.ErrLinkClaimed):
		return EventSecurityAlert
	case errors.Is(err, handshake.ErrHandshakeTimeout):
		return EventConnectionFailed
	default:
		return EventHandshakeFailed
	}
}

func (n *Node) mediaState(peer ref.PeerID, state signaling.ConnectionState) {
	n.emit(Event{Kind: EventMediaState, Peer: peer, Media: state})
}

// closeGuest tells a guest the outcome and closes its channel once the
// message is flushed.
func (n *Node) closeGuest(peer ref.PeerID, reason protocol.DenyReason) {
	l := n.link(peer)
	if l == nil {
		return
	}
	n.send(l, &protocol.JoinDenied{Reason: reason})
	n.detach(peer)
}
