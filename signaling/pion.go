// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/transport"
)

// Opus parameters negotiated for every audio transceiver.
const (
	opusPayloadType = 111
	opusClockRate   = 48000
	opusChannels    = 2
	opusFmtp        = "minptime=10;useinbandfec=1"
)

const defaultEventBuffer = 256

// ErrNegotiatorClosed is returned by every operation after Close.
var ErrNegotiatorClosed = errors.New("negotiator is closed")

// PionConfig configures a PionNegotiator.
type PionConfig struct {
	ICE    transport.ICEConfig
	Logger *slog.Logger

	// EventBuffer is the capacity of the Events channel. Events are
	// dropped with a warning when it is full.
	EventBuffer int
}

// PionNegotiator negotiates one audio PeerConnection per remote peer
// with trickle ICE. Offers and answers are JSON-encoded
// webrtc.SessionDescription values; candidates are JSON-encoded
// webrtc.ICECandidateInit values.
type PionNegotiator struct {
	api    *webrtc.API
	ice    transport.ICEConfig
	logger *slog.Logger

	mu    sync.Mutex
	peers map[ref.PeerID]*pionPeer

	// eventMu guards sends on events against the close in Close.
	eventMu sync.RWMutex
	closed  bool
	events  chan Event
}

type pionPeer struct {
	connection *webrtc.PeerConnection

	// pending holds remote candidates that arrived before the remote
	// description.
	pending []webrtc.ICECandidateInit
}

// NewPionNegotiator creates a negotiator with Opus registered as the
// only audio codec.
func NewPionNegotiator(config PionConfig) (*PionNegotiator, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := config.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	media := &webrtc.MediaEngine{}
	if err := media.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   opusClockRate,
			Channels:    opusChannels,
			SDPFmtpLine: opusFmtp,
		},
		PayloadType: opusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("registering opus: %w", err)
	}

	// Loopback candidates let two processes on one machine connect
	// when loopback is the only interface.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	return &PionNegotiator{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(settingEngine)),
		ice:    config.ICE,
		logger: logger.With("component", "media"),
		peers:  make(map[ref.PeerID]*pionPeer),
		events: make(chan Event, buffer),
	}, nil
}

// Events implements Negotiator.
func (n *PionNegotiator) Events() <-chan Event { return n.events }

// CreateOffer implements Negotiator.
func (n *PionNegotiator) CreateOffer(peer ref.PeerID) ([]byte, error) {
	connection, err := n.connect(peer)
	if err != nil {
		return nil, err
	}
	offer, err := connection.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	if err := connection.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	return json.Marshal(offer)
}

// CreateAnswer implements Negotiator. An offer for a peer that already
// has a connection replaces it.
func (n *PionNegotiator) CreateAnswer(peer ref.PeerID, payload []byte) ([]byte, error) {
	offer, err := decodeDescription(payload, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	connection, err := n.connect(peer)
	if err != nil {
		return nil, err
	}
	if err := connection.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("setting remote description: %w", err)
	}
	if err := n.flushPending(peer); err != nil {
		return nil, err
	}
	answer, err := connection.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating answer: %w", err)
	}
	if err := connection.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	return json.Marshal(answer)
}

// HandleRemoteDescription implements Negotiator.
func (n *PionNegotiator) HandleRemoteDescription(peer ref.PeerID, payload []byte) error {
	answer, err := decodeDescription(payload, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	n.mu.Lock()
	state, ok := n.peers[peer]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownPeer, peer.Short())
	}
	if err := state.connection.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return n.flushPending(peer)
}

// AddICECandidate implements Negotiator. Candidates for a peer with no
// connection yet are held as well, since trickled candidates can
// overtake the offer that creates it.
func (n *PionNegotiator) AddICECandidate(peer ref.PeerID, payload []byte) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err != nil {
		return fmt.Errorf("decoding candidate: %w", err)
	}

	n.mu.Lock()
	state, ok := n.peers[peer]
	if !ok {
		state = &pionPeer{}
		n.peers[peer] = state
	}
	if state.connection == nil || state.connection.RemoteDescription() == nil {
		state.pending = append(state.pending, candidate)
		n.mu.Unlock()
		return nil
	}
	connection := state.connection
	n.mu.Unlock()

	if err := connection.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("adding candidate: %w", err)
	}
	return nil
}

// ClosePeer implements Negotiator.
func (n *PionNegotiator) ClosePeer(peer ref.PeerID) error {
	n.mu.Lock()
	state, ok := n.peers[peer]
	delete(n.peers, peer)
	n.mu.Unlock()
	if !ok || state.connection == nil {
		return nil
	}
	if err := state.connection.Close(); err != nil {
		return fmt.Errorf("closing connection to %s: %w", peer.Short(), err)
	}
	return nil
}

// Close tears down every connection and closes the event stream.
func (n *PionNegotiator) Close() error {
	n.mu.Lock()
	peers := n.peers
	n.peers = make(map[ref.PeerID]*pionPeer)
	n.mu.Unlock()

	var errs []error
	for peer, state := range peers {
		if state.connection == nil {
			continue
		}
		if err := state.connection.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing connection to %s: %w", peer.Short(), err))
		}
	}

	n.eventMu.Lock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
	n.eventMu.Unlock()
	return errors.Join(errs...)
}

// connect returns a fresh PeerConnection for peer, keeping any
// candidates already held for it.
func (n *PionNegotiator) connect(peer ref.PeerID) (*webrtc.PeerConnection, error) {
	n.eventMu.RLock()
	closed := n.closed
	n.eventMu.RUnlock()
	if closed {
		return nil, ErrNegotiatorClosed
	}

	connection, err := n.api.NewPeerConnection(webrtc.Configuration{ICEServers: n.ice.Servers})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	if _, err := connection.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		connection.Close()
		return nil, fmt.Errorf("adding audio transceiver: %w", err)
	}

	connection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// A nil candidate marks the end of gathering.
		if candidate == nil {
			return
		}
		encoded, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			n.logger.Warn("encoding local candidate", "peer", peer.Short(), "error", err)
			return
		}
		n.emit(Event{Peer: peer, Kind: EventCandidate, Candidate: encoded})
	})
	connection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.emit(Event{Peer: peer, Kind: EventState, State: connectionState(state)})
	})

	n.mu.Lock()
	var previous *webrtc.PeerConnection
	state, ok := n.peers[peer]
	if !ok {
		state = &pionPeer{}
		n.peers[peer] = state
	}
	previous, state.connection = state.connection, connection
	n.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return connection, nil
}

func (n *PionNegotiator) flushPending(peer ref.PeerID) error {
	n.mu.Lock()
	state, ok := n.peers[peer]
	if !ok {
		n.mu.Unlock()
		return nil
	}
	pending := state.pending
	state.pending = nil
	connection := state.connection
	n.mu.Unlock()

	for _, candidate := range pending {
		if err := connection.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("adding held candidate: %w", err)
		}
	}
	return nil
}

func (n *PionNegotiator) emit(event Event) {
	n.eventMu.RLock()
	defer n.eventMu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.events <- event:
	default:
		n.logger.Warn("event buffer full, dropping event", "peer", event.Peer.Short(), "kind", event.Kind)
	}
}

func decodeDescription(payload []byte, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var description webrtc.SessionDescription
	if err := json.Unmarshal(payload, &description); err != nil {
		return description, fmt.Errorf("decoding session description: %w", err)
	}
	if description.Type != want {
		return description, fmt.Errorf("session description is %s, want %s", description.Type, want)
	}
	return description, nil
}

func connectionState(state webrtc.PeerConnectionState) ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}
