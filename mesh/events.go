// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/protocol"
	"github.com/resonance-mesh/resonance/room"
	"github.com/resonance-mesh/resonance/signaling"
)

var (
	// ErrNotInRoom is returned by commands that need a room.
	ErrNotInRoom = errors.New("not in a room")

	// ErrAlreadyInRoom is returned by CreateRoom and JoinViaLink while
	// the node is in a room or joining one.
	ErrAlreadyInRoom = errors.New("already in a room")

	// ErrClosed is returned after the node has shut down.
	ErrClosed = errors.New("node is closed")
)

// JoinDeniedError is returned by JoinViaLink when the inviter refuses
// the request. It matches room.ErrJoinDenied under errors.Is.
type JoinDeniedError struct {
	Reason protocol.DenyReason
}

func (e *JoinDeniedError) Error() string {
	return fmt.Sprintf("join denied: %s", e.Reason)
}

func (e *JoinDeniedError) Unwrap() error { return room.ErrJoinDenied }

// EventKind names an Event.
type EventKind string

const (
	EventPeerJoined          EventKind = "peer-joined"
	EventPeerLeft            EventKind = "peer-left"
	EventPeerListUpdated     EventKind = "peer-list-updated"
	EventJoinRequestReceived EventKind = "join-request-received"
	EventJoinRequestExpired  EventKind = "join-request-expired"
	EventJoinDenied          EventKind = "join-denied"
	EventHandshakeFailed     EventKind = "handshake-failed"
	EventSecurityAlert       EventKind = "security-alert"
	EventConnectionFailed    EventKind = "connection-failed"
	EventMediaState          EventKind = "media-state"
)

// Event is one notification for the UI. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind

	Peer    ref.PeerID
	Name    string
	Address netip.AddrPort

	// Members is set for EventPeerListUpdated.
	Members []room.Peer

	// Request is set for the join-request events.
	Request ref.RequestID

	// Reason is set for EventPeerLeft and EventJoinDenied.
	Reason string

	// Media is set for EventMediaState.
	Media signaling.ConnectionState

	// Err is set for the failure events.
	Err error
}

// emit queues an event for the UI. The queue is unbounded so a slow
// consumer delays events but never loses them.
func (n *Node) emit(event Event) {
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	if n.eventsClosed {
		return
	}
	n.pending = append(n.pending, event)
	select {
	case n.eventWake <- struct{}{}:
	default:
	}
}

// pumpEvents moves queued events onto the Events channel in order
// until stop is closed.
func (n *Node) pumpEvents(stop <-chan struct{}) {
	for {
		n.eventMu.Lock()
		batch := n.pending
		n.pending = nil
		n.eventMu.Unlock()

		for i, event := range batch {
			select {
			case n.events <- event:
			case <-stop:
				n.requeue(batch[i:])
				return
			}
		}
		select {
		case <-n.eventWake:
		case <-stop:
			return
		}
	}
}

// requeue puts undelivered events back at the head of the queue.
func (n *Node) requeue(batch []Event) {
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	n.pending = append(batch, n.pending...)
}

// closeEvents stops the pump, hands whatever still fits in the
// channel buffer to the consumer, and closes the channel.
func (n *Node) closeEvents() {
	n.stopEventPump()

	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	if n.eventsClosed {
		return
	}
	n.eventsClosed = true
	dropped := 0
	for _, event := range n.pending {
		select {
		case n.events <- event:
		default:
			dropped++
		}
	}
	n.pending = nil
	if dropped > 0 {
		n.logger.Warn("events undelivered at shutdown", "count", dropped)
	}
	close(n.events)
}

// startEventPump runs the event pump once per Run.
func (n *Node) startEventPump() {
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	if n.eventsClosed || n.pumpStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	n.pumpStop, n.pumpDone = stop, done
	go func() {
		defer close(done)
		n.pumpEvents(stop)
	}()
}

func (n *Node) stopEventPump() {
	n.eventMu.Lock()
	stop, done := n.pumpStop, n.pumpDone
	n.eventMu.Unlock()
	if stop == nil {
		return
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	<-done
}
