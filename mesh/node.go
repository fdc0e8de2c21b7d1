// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/resonance-mesh/resonance/handshake"
	"github.com/resonance-mesh/resonance/lib/clock"
	"github.com/resonance-mesh/resonance/lib/codec"
	"github.com/resonance-mesh/resonance/lib/config"
	"github.com/resonance-mesh/resonance/lib/metrics"
	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/lib/secret"
	"github.com/resonance-mesh/resonance/link"
	"github.com/resonance-mesh/resonance/protocol"
	"github.com/resonance-mesh/resonance/room"
	"github.com/resonance-mesh/resonance/signaling"
	"github.com/resonance-mesh/resonance/transport"
)

const (
	defaultGossipInterval   = 5 * time.Second
	defaultPeerTimeout      = 30 * time.Second
	defaultJoinRequestTTL   = 2 * time.Minute
	defaultHandshakeTimeout = 10 * time.Second
	defaultEventBuffer      = 256
)

// Config configures a Node.
type Config struct {
	// Self is the local PeerID. Zero generates one.
	Self        ref.PeerID
	DisplayName string

	// Advertise is the address given out in join links and gossip.
	// Zero uses the endpoint's bound address.
	Advertise netip.AddrPort

	Endpoint   *transport.Endpoint
	Negotiator signaling.Negotiator

	Handshake config.HandshakeConfig
	Gossip    config.GossipConfig
	Links     config.LinksConfig
	Room      config.RoomConfig
	Channel   config.ChannelConfig

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Recorder

	// EventBuffer is the capacity of the Events channel. Events beyond
	// it wait in an unbounded queue.
	EventBuffer int
}

// Node is one peer of the mesh.
type Node struct {
	config    Config
	self      ref.PeerID
	advertise netip.AddrPort
	clock     clock.Clock
	logger    *slog.Logger
	base      *slog.Logger
	metrics   *metrics.Recorder

	endpoint *transport.Endpoint
	engine   *handshake.Engine
	issuer   *link.Issuer
	relay    *signaling.Relay

	// ctx bounds background work: dials, room pumps, join waits.
	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	mu         sync.Mutex
	room       *room.Room
	roomID     ref.RoomID
	meshSecret *secret.Buffer
	joining    *joinAttempt
	links      map[ref.PeerID]*peerLink
	byAddress  map[netip.AddrPort]*peerLink
	dialing    map[ref.PeerID]bool
	closed     bool

	eventMu      sync.Mutex
	eventsClosed bool
	pending      []Event
	eventWake    chan struct{}
	pumpStop     chan struct{}
	pumpDone     chan struct{}
	events       chan Event
}

// joinAttempt is a JoinViaLink waiting for the inviter's decision.
type joinAttempt struct {
	inviter ref.PeerID
	roomID  ref.RoomID
	result  chan error
}

// New creates a Node. Call Run to start serving.
func New(cfg Config) (*Node, error) {
	if cfg.Endpoint == nil {
		return nil, errors.New("mesh node requires an endpoint")
	}
	if cfg.Negotiator == nil {
		return nil, errors.New("mesh node requires a media negotiator")
	}
	if cfg.Self.IsZero() {
		cfg.Self = ref.NewPeerID()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Gossip.Interval <= 0 {
		cfg.Gossip.Interval = defaultGossipInterval
	}
	if cfg.Gossip.PeerTimeout <= 0 {
		cfg.Gossip.PeerTimeout = defaultPeerTimeout
	}
	if cfg.Gossip.SuspectHold <= 0 {
		cfg.Gossip.SuspectHold = 2 * cfg.Gossip.PeerTimeout
	}
	if cfg.Room.JoinRequestTTL <= 0 {
		cfg.Room.JoinRequestTTL = defaultJoinRequestTTL
	}
	if cfg.Handshake.Timeout <= 0 {
		cfg.Handshake.Timeout = defaultHandshakeTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	advertise := cfg.Advertise
	if !advertise.IsValid() {
		advertise = cfg.Endpoint.LocalAddress()
	}
	if !advertise.IsValid() || advertise.Addr().IsUnspecified() {
		return nil, fmt.Errorf("no usable advertise address (bound to %s)", cfg.Endpoint.LocalAddress())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:    cfg,
		self:      cfg.Self,
		advertise: advertise,
		clock:     cfg.Clock,
		logger:    logger.With("component", "mesh", "self", cfg.Self.Short()),
		base:      logger,
		metrics:   cfg.Metrics,
		endpoint:  cfg.Endpoint,
		ctx:       ctx,
		cancel:    cancel,
		links:     make(map[ref.PeerID]*peerLink),
		byAddress: make(map[netip.AddrPort]*peerLink),
		dialing:   make(map[ref.PeerID]bool),
		events:    make(chan Event, cfg.EventBuffer),
		eventWake: make(chan struct{}, 1),
	}
	n.issuer = link.NewIssuer(link.IssuerConfig{
		TTL:            cfg.Links.TTL,
		MaxOutstanding: cfg.Links.MaxOutstanding,
		Clock:          cfg.Clock,
		Logger:         logger,
		Metrics:        cfg.Metrics,
	})
	n.engine = handshake.New(handshake.Config{
		Self:        cfg.Self,
		Sender:      cfg.Endpoint,
		Resolver:    n,
		Clock:       cfg.Clock,
		Timeout:     cfg.Handshake.Timeout,
		MaxAttempts: cfg.Handshake.MaxAttempts,
		Logger:      logger,
		Metrics:     cfg.Metrics,
		Accept:      n.accept,
		Alert:       n.handshakeAlert,
	})
	n.relay = signaling.NewRelay(signaling.RelayConfig{
		Self:         cfg.Self,
		Negotiator:   cfg.Negotiator,
		Sender:       n,
		Logger:       logger,
		Metrics:      cfg.Metrics,
		StateChanged: n.mediaState,
	})
	return n, nil
}

// Self returns the local PeerID.
func (n *Node) Self() ref.PeerID { return n.self }

// Address returns the advertised address.
func (n *Node) Address() netip.AddrPort { return n.advertise }

// Events returns the UI event stream. It is closed when Run returns.
func (n *Node) Events() <-chan Event { return n.events }

// Run serves the endpoint, the gossip loop, and the media event pump
// until ctx is cancelled, then tears the node down. Leave the room
// first to notify other members.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	n.startEventPump()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n.relay.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		n.gossipLoop(ctx)
	}()

	n.logger.Info("node running", "address", n.advertise, "name", n.config.DisplayName)
	err := n.endpoint.Serve(ctx, n.handleDatagram)
	cancel()
	wg.Wait()
	n.shutdown()
	if err != nil {
		return fmt.Errorf("serving endpoint: %w", err)
	}
	return nil
}

func (n *Node) shutdown() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	n.cancel()
	n.engine.Close()
	n.reset()
	n.tasks.Wait()
	n.issuer.Close()
	n.endpoint.Close()
	n.closeEvents()
	n.logger.Info("node stopped")
}

// reset closes every channel, the room, and the mesh secret.
func (n *Node) reset() {
	n.mu.Lock()
	links := n.links
	currentRoom := n.room
	meshSecret := n.meshSecret
	joining := n.joining
	n.links = make(map[ref.PeerID]*peerLink)
	n.byAddress = make(map[netip.AddrPort]*peerLink)
	n.room = nil
	n.roomID = ref.RoomID{}
	n.meshSecret = nil
	n.joining = nil
	n.mu.Unlock()

	if joining != nil {
		select {
		case joining.result <- ErrClosed:
		default:
		}
	}
	for peer, l := range links {
		l.channel.Close()
		if err := n.relay.End(peer); err != nil {
			n.logger.Debug("ending media", "peer", peer.Short(), "error", err)
		}
	}
	if currentRoom != nil {
		currentRoom.Close()
	}
	if meshSecret != nil {
		meshSecret.Close()
	}
	n.metrics.SetMembers(0)
}

// current returns the room and its ID, or ErrNotInRoom.
func (n *Node) current() (*room.Room, ref.RoomID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ref.RoomID{}, ErrClosed
	}
	if n.room == nil {
		return nil, ref.RoomID{}, ErrNotInRoom
	}
	return n.room, n.roomID, nil
}

func (n *Node) selfPeer() room.Peer {
	return room.Peer{ID: n.self, Name: n.config.DisplayName, Address: n.advertise}
}

// handleDatagram routes one inbound datagram. It runs on the endpoint
// read loop.
func (n *Node) handleDatagram(from netip.AddrPort, payload []byte) {
	frame, err := protocol.DecodeFrame(payload)
	if err != nil {
		if n.logger.Enabled(n.ctx, slog.LevelDebug) {
			notation, diagErr := codec.Diagnose(payload)
			if diagErr != nil {
				notation = "not CBOR: " + diagErr.Error()
			}
			n.logger.Debug("dropping undecodable datagram", "address", from, "error", err, "cbor", notation)
		}
		return
	}
	if frame.Kind != protocol.KindEnvelope {
		n.engine.HandleFrame(from, frame)
		return
	}
	n.mu.Lock()
	l := n.byAddress[from]
	n.mu.Unlock()
	if l == nil {
		n.logger.Debug("dropping envelope from unknown address", "address", from)
		return
	}
	l.channel.Receive(frame)
}
