// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/resonance-mesh/resonance/lib/metrics"
	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/protocol"
)

// Sender delivers a message to a peer over its secure channel.
type Sender interface {
	SendTo(peer ref.PeerID, body protocol.Body) error
}

// RelayConfig configures a Relay.
type RelayConfig struct {
	Self       ref.PeerID
	Negotiator Negotiator
	Sender     Sender

	Logger  *slog.Logger
	Metrics *metrics.Recorder

	// StateChanged receives every media connection-state change. It
	// runs on the Run goroutine.
	StateChanged func(peer ref.PeerID, state ConnectionState)
}

// Relay forwards negotiation payloads between the local negotiator
// and remote peers.
type Relay struct {
	config RelayConfig
	logger *slog.Logger

	mu     sync.Mutex
	active map[ref.PeerID]bool
}

// NewRelay creates a Relay. Call Run to pump negotiator events.
func NewRelay(config RelayConfig) *Relay {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		config: config,
		logger: logger.With("component", "signaling"),
		active: make(map[ref.PeerID]bool),
	}
}

// IsOfferer reports whether self creates the offer toward peer.
func IsOfferer(self, peer ref.PeerID) bool { return self.Less(peer) }

// Begin starts media negotiation with peer. The side with the smaller
// PeerID sends the offer; the other side waits for it. Calling Begin
// for a peer already in negotiation does nothing.
func (r *Relay) Begin(peer ref.PeerID) error {
	r.mu.Lock()
	if r.active[peer] {
		r.mu.Unlock()
		return nil
	}
	r.active[peer] = true
	r.mu.Unlock()

	if !IsOfferer(r.config.Self, peer) {
		r.logger.Debug("awaiting offer", "peer", peer.Short())
		return nil
	}
	offer, err := r.config.Negotiator.CreateOffer(peer)
	if err != nil {
		r.deactivate(peer)
		return fmt.Errorf("creating offer for %s: %w", peer.Short(), err)
	}
	if err := r.send(peer, &protocol.SdpOffer{Payload: offer}); err != nil {
		r.deactivate(peer)
		if closeErr := r.config.Negotiator.ClosePeer(peer); closeErr != nil {
			r.logger.Debug("discarding unsent offer", "peer", peer.Short(), "error", closeErr)
		}
		return err
	}
	r.logger.Info("media offer sent", "peer", peer.Short())
	return nil
}

// End tears down media for peer.
func (r *Relay) End(peer ref.PeerID) error {
	r.deactivate(peer)
	if err := r.config.Negotiator.ClosePeer(peer); err != nil {
		return fmt.Errorf("closing media for %s: %w", peer.Short(), err)
	}
	return nil
}

// Active reports whether negotiation with peer has begun and not
// ended.
func (r *Relay) Active(peer ref.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[peer]
}

func (r *Relay) deactivate(peer ref.PeerID) {
	r.mu.Lock()
	delete(r.active, peer)
	r.mu.Unlock()
}

// Handle processes an inbound signaling message from peer. It returns
// false for message types the relay does not own.
func (r *Relay) Handle(peer ref.PeerID, body protocol.Body) (bool, error) {
	switch message := body.(type) {
	case *protocol.SdpOffer:
		r.observe("in", body)
		r.mu.Lock()
		r.active[peer] = true
		r.mu.Unlock()
		answer, err := r.config.Negotiator.CreateAnswer(peer, message.Payload)
		if err != nil {
			return true, fmt.Errorf("answering offer from %s: %w", peer.Short(), err)
		}
		if err := r.send(peer, &protocol.SdpAnswer{Payload: answer}); err != nil {
			return true, err
		}
		r.logger.Info("media answer sent", "peer", peer.Short())
		return true, nil

	case *protocol.SdpAnswer:
		r.observe("in", body)
		if err := r.config.Negotiator.HandleRemoteDescription(peer, message.Payload); err != nil {
			return true, fmt.Errorf("applying answer from %s: %w", peer.Short(), err)
		}
		return true, nil

	case *protocol.IceCandidate:
		r.observe("in", body)
		if err := r.config.Negotiator.AddICECandidate(peer, message.Payload); err != nil {
			return true, fmt.Errorf("adding candidate from %s: %w", peer.Short(), err)
		}
		return true, nil
	}
	return false, nil
}

// Run pumps negotiator events until ctx is cancelled or the negotiator
// closes its event stream.
func (r *Relay) Run(ctx context.Context) {
	events := r.config.Negotiator.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.dispatch(event)
		}
	}
}

func (r *Relay) dispatch(event Event) {
	switch event.Kind {
	case EventCandidate:
		if !r.Active(event.Peer) {
			r.logger.Debug("dropping candidate for inactive peer", "peer", event.Peer.Short())
			return
		}
		if err := r.send(event.Peer, &protocol.IceCandidate{Payload: event.Candidate}); err != nil {
			r.logger.Warn("forwarding candidate failed", "peer", event.Peer.Short(), "error", err)
		}
	case EventState:
		r.logger.Info("media connection state", "peer", event.Peer.Short(), "state", event.State)
		if r.config.StateChanged != nil {
			r.config.StateChanged(event.Peer, event.State)
		}
	}
}

func (r *Relay) send(peer ref.PeerID, body protocol.Body) error {
	r.observe("out", body)
	if err := r.config.Sender.SendTo(peer, body); err != nil {
		return fmt.Errorf("relaying %s to %s: %w", body.MessageType(), peer.Short(), err)
	}
	return nil
}

func (r *Relay) observe(direction string, body protocol.Body) {
	r.config.Metrics.ObserveSignaling(direction, string(body.MessageType()))
}
