// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/resonance-mesh/resonance/lib/ref"
)

// MemoryNegotiator is a Negotiator that exchanges text payloads and
// reports a peer connected once its offer/answer pair completes. It
// carries no media and is intended for tests.
type MemoryNegotiator struct {
	self ref.PeerID

	mu         sync.Mutex
	peers      map[ref.PeerID]*memoryPeer
	closed     bool
	events     chan Event
	candidates int
}

type memoryPeer struct {
	offered    bool
	connected  bool
	candidates [][]byte
}

// NewMemoryNegotiator creates a MemoryNegotiator for self.
func NewMemoryNegotiator(self ref.PeerID) *MemoryNegotiator {
	return &MemoryNegotiator{
		self:   self,
		peers:  make(map[ref.PeerID]*memoryPeer),
		events: make(chan Event, defaultEventBuffer),
	}
}

// Events implements Negotiator.
func (m *MemoryNegotiator) Events() <-chan Event { return m.events }

// CreateOffer implements Negotiator.
func (m *MemoryNegotiator) CreateOffer(peer ref.PeerID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrNegotiatorClosed
	}
	m.peers[peer] = &memoryPeer{offered: true, candidates: m.heldLocked(peer)}
	m.candidateLocked(peer)
	return []byte("offer:" + m.self.String()), nil
}

// CreateAnswer implements Negotiator.
func (m *MemoryNegotiator) CreateAnswer(peer ref.PeerID, offer []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrNegotiatorClosed
	}
	if !bytes.Equal(offer, []byte("offer:"+peer.String())) {
		return nil, fmt.Errorf("malformed offer from %s", peer.Short())
	}
	m.peers[peer] = &memoryPeer{connected: true, candidates: m.heldLocked(peer)}
	m.candidateLocked(peer)
	m.emitLocked(Event{Peer: peer, Kind: EventState, State: StateConnected})
	return []byte("answer:" + m.self.String()), nil
}

// HandleRemoteDescription implements Negotiator.
func (m *MemoryNegotiator) HandleRemoteDescription(peer ref.PeerID, answer []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNegotiatorClosed
	}
	state, ok := m.peers[peer]
	if !ok || !state.offered {
		return fmt.Errorf("%w %s", ErrUnknownPeer, peer.Short())
	}
	if !bytes.Equal(answer, []byte("answer:"+peer.String())) {
		return fmt.Errorf("malformed answer from %s", peer.Short())
	}
	state.connected = true
	m.emitLocked(Event{Peer: peer, Kind: EventState, State: StateConnected})
	return nil
}

// AddICECandidate implements Negotiator.
func (m *MemoryNegotiator) AddICECandidate(peer ref.PeerID, candidate []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNegotiatorClosed
	}
	state, ok := m.peers[peer]
	if !ok {
		state = &memoryPeer{}
		m.peers[peer] = state
	}
	state.candidates = append(state.candidates, bytes.Clone(candidate))
	return nil
}

// ClosePeer implements Negotiator.
func (m *MemoryNegotiator) ClosePeer(peer ref.PeerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.peers[peer]
	if !ok {
		return nil
	}
	delete(m.peers, peer)
	if state.connected && !m.closed {
		m.emitLocked(Event{Peer: peer, Kind: EventState, State: StateClosed})
	}
	return nil
}

// Close implements Negotiator.
func (m *MemoryNegotiator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	return nil
}

// Connected reports whether negotiation with peer has completed.
func (m *MemoryNegotiator) Connected(peer ref.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.peers[peer]
	return ok && state.connected
}

// Candidates returns the remote candidates received for peer.
func (m *MemoryNegotiator) Candidates(peer ref.PeerID) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.peers[peer]
	if !ok {
		return nil
	}
	return append([][]byte(nil), state.candidates...)
}

func (m *MemoryNegotiator) heldLocked(peer ref.PeerID) [][]byte {
	if state, ok := m.peers[peer]; ok {
		return state.candidates
	}
	return nil
}

func (m *MemoryNegotiator) candidateLocked(peer ref.PeerID) {
	m.candidates++
	m.emitLocked(Event{
		Peer:      peer,
		Kind:      EventCandidate,
		Candidate: fmt.Appendf(nil, "candidate:%s:%d", m.self.Short(), m.candidates),
	})
}

func (m *MemoryNegotiator) emitLocked(event Event) {
	select {
	case m.events <- event:
	default:
	}
}
