// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/resonance-mesh/resonance/lib/clock"
	"github.com/resonance-mesh/resonance/lib/metrics"
	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/lib/secret"
	"github.com/resonance-mesh/resonance/lib/version"
	"github.com/resonance-mesh/resonance/protocol"
)

// State is the progress of one outbound handshake run.
type State uint8

const (
	Idle State = iota
	Initiated
	AwaitingAck
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initiated:
		return "initiated"
	case AwaitingAck:
		return "awaiting-ack"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Role is which side of the exchange a session was established from.
type Role uint8

const (
	RoleInitiator Role = iota + 1
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Sender puts one datagram on the wire.
type Sender interface {
	Send(to netip.AddrPort, payload []byte) error
}

// Target names the remote side of an outbound handshake.
type Target struct {
	Address netip.AddrPort
	RoomID  ref.RoomID

	// Secret is the 32-byte link or mesh secret. It is borrowed: the
	// caller keeps it open until Initiate returns.
	Secret *secret.Buffer

	// LinkKey is the inviter public key from a join link. When set, the
	// responder must answer with exactly this key and the responder
	// looks up the link secret by it.
	LinkKey []byte
}

// Session is an authenticated peer with its session key.
type Session struct {
	Peer    ref.PeerID
	Address netip.AddrPort
	RoomID  ref.RoomID
	Role    Role

	// LinkID identifies the join link a responder-side session was
	// established through. Empty for mesh handshakes and initiators.
	LinkID string

	Key *SessionKey
}

// Close zeroes the session key.
func (s *Session) Close() error { return s.Key.Close() }

// ResolveRequest is what a responder knows when it must pick a secret.
type ResolveRequest struct {
	Address   netip.AddrPort
	RoomID    ref.RoomID
	Initiator ref.PeerID

	// LinkKey is empty for mesh handshakes.
	LinkKey []byte
}

// Credentials are the responder's inputs for one handshake. The engine
// takes ownership of Secret and KeyPair.
type Credentials struct {
	Secret *secret.Buffer

	// KeyPair is the responder key to answer with. Link handshakes
	// answer with the key pair the link was issued with; nil means a
	// fresh ephemeral key.
	KeyPair *KeyPair

	LinkID string

	// Established, when set, is called once the initiator's
	// confirmation tag verifies. An error refuses the session and is
	// reported as an alert.
	Established func() error
}

func (c Credentials) close() {
	c.Secret.Close()
	c.KeyPair.Close()
}

// SecretResolver chooses the responder's credentials for an inbound
// HelloInitiate.
type SecretResolver interface {
	ResolveSecret(ResolveRequest) (Credentials, error)
}

// Config configures an Engine.
type Config struct {
	Self     ref.PeerID
	Sender   Sender
	Resolver SecretResolver

	Clock       clock.Clock
	Timeout     time.Duration
	MaxAttempts int

	Logger  *slog.Logger
	Metrics *metrics.Recorder

	// Accept receives every responder-side session. It is called on
	// the goroutine that delivered the final frame.
	Accept func(*Session)

	// Alert receives responder-side failures and rejected frames.
	Alert func(Failure)
}

// Engine runs handshakes over one datagram endpoint.
type Engine struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	outbound map[netip.AddrPort]*run
	inbound  map[netip.AddrPort]*pendingResponse

	closed    chan struct{}
	closeOnce sync.Once
}

// run is one outbound handshake, shared by every Initiate caller for
// its address.
type run struct {
	target  Target
	started time.Time

	// Fields below are guarded by Engine.mu.
	state      State
	superseded bool
	finished   bool
	waiters    int

	acks      chan HelloAck
	adopted   chan *Session
	supersede chan struct{}
	done      chan struct{}
	session   *Session
	err       error
}

// pendingResponse is a responder waiting for the initiator's AuthTag.
type pendingResponse struct {
	initiator    ref.PeerID
	initiatorKey []byte
	room         ref.RoomID
	key          *SessionKey
	confirmTag   []byte
	linkID       string
	established  func() error
	ack          []byte
	created      time.Time
}

// New creates an Engine. Zero Timeout and MaxAttempts default to 10s
// and 3.
func New(config Config) *Engine {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:   config,
		clock:    config.Clock,
		logger:   logger.With("component", "handshake", "self", config.Self.Short()),
		outbound: make(map[netip.AddrPort]*run),
		inbound:  make(map[netip.AddrPort]*pendingResponse),
		closed:   make(chan struct{}),
	}
}

// State reports the progress of the outbound run to address, or Idle
// when there is none.
func (e *Engine) State(address netip.AddrPort) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.outbound[address]; ok {
		return r.state
	}
	return Idle
}

// Initiate runs a handshake against target and returns the established
// session. Timeouts are retried with a fresh ephemeral key up to
// MaxAttempts; authentication failures are returned immediately.
//
// If a run to the same address is already in flight, Initiate waits
// for it and returns its result: concurrent callers share one Session.
func (e *Engine) Initiate(ctx context.Context, target Target) (*Session, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}

	e.mu.Lock()
	select {
	case <-e.closed:
		e.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	if existing, ok := e.outbound[target.Address]; ok {
		existing.waiters++
		e.mu.Unlock()
		select {
		case <-existing.done:
			return existing.session, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r := &run{
		target:    target,
		started:   e.clock.Now(),
		state:     Idle,
		acks:      make(chan HelloAck, 4),
		adopted:   make(chan *Session, 1),
		supersede: make(chan struct{}),
		done:      make(chan struct{}),
	}
	e.outbound[target.Address] = r
	e.mu.Unlock()

	session, err := e.drive(ctx, r)
	e.finish(r, session, err)
	return session, err
}

func validateTarget(target Target) error {
	switch {
	case !target.Address.IsValid():
		return errors.New("handshake target has no address")
	case target.RoomID.IsZero():
		return errors.New("handshake target has no room")
	case target.Secret == nil || target.Secret.Len() != KeySize:
		return fmt.Errorf("handshake secret must be %d bytes", KeySize)
	case len(target.LinkKey) != 0 && len(target.LinkKey) != KeySize:
		return fmt.Errorf("link key must be %d bytes, got %d", KeySize, len(target.LinkKey))
	}
	return nil
}

func (e *Engine) drive(ctx context.Context, r *run) (*Session, error) {
	address := r.target.Address
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		keyPair, err := GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		session, retry, err := e.attempt(ctx, r, keyPair)
		keyPair.Close()
		if !retry {
			return session, err
		}
		e.logger.Info("handshake attempt timed out",
			"address", address,
			"attempt", attempt,
			"max_attempts", e.config.MaxAttempts,
		)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrHandshakeTimeout, address, e.config.MaxAttempts)
}

// attempt sends one HelloInitiate and waits for its HelloAck. retry is
// true only when the attempt timed out and another may be made.
func (e *Engine) attempt(ctx context.Context, r *run, keyPair *KeyPair) (session *Session, retry bool, err error) {
	hello := HelloInitiate{
		Version:      version.Protocol,
		RoomID:       r.target.RoomID,
		PeerID:       e.config.Self,
		EphemeralKey: keyPair.Public[:],
		LinkKey:      r.target.LinkKey,
	}
	payload, err := protocol.EncodeFrame(protocol.KindHelloInitiate, hello)
	if err != nil {
		return nil, false, err
	}

	e.setState(r, Initiated)
	superseded := e.isSuperseded(r)
	if !superseded {
		if err := e.config.Sender.Send(r.target.Address, payload); err != nil {
			// The timeout below covers this attempt like a lost datagram.
			e.logger.Warn("sending HelloInitiate failed", "address", r.target.Address, "error", err)
		}
	}
	e.setState(r, AwaitingAck)

	supersedeSignal := r.supersede
	if superseded {
		supersedeSignal = nil
	}
	timeout := e.clock.After(e.config.Timeout)
	for {
		select {
		case ack := <-r.acks:
			if !bytes.Equal(ack.Echo, keyPair.Public[:]) {
				e.logger.Debug("dropping HelloAck for an earlier attempt", "address", r.target.Address)
				continue
			}
			session, err := e.complete(r, keyPair, ack)
			return session, false, err
		case session := <-r.adopted:
			return session, false, nil
		case <-supersedeSignal:
			// The remote peer's run takes precedence. Its responder
			// side completes into r.adopted.
			superseded = true
			supersedeSignal = nil
		case <-timeout:
			if superseded {
				return nil, false, fmt.Errorf("%w: crossed handshake with %s did not complete", ErrHandshakeTimeout, r.target.Address)
			}
			return nil, true, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-e.closed:
			return nil, false, ErrClosed
		}
	}
}

// complete verifies a HelloAck and derives the session key.
func (e *Engine) complete(r *run, keyPair *KeyPair, ack HelloAck) (*Session, error) {
	target := r.target
	if ack.Version != version.Protocol {
		return nil, fmt.Errorf("%w: remote speaks %d, local %d", ErrVersionMismatch, ack.Version, version.Protocol)
	}
	if ack.RoomID != target.RoomID {
		return nil, fmt.Errorf("%w: HelloAck names room %s", ErrHandshakeAuthFailure, ack.RoomID)
	}
	if ack.PeerID.IsZero() || ack.PeerID == e.config.Self {
		return nil, fmt.Errorf("%w: HelloAck from invalid peer %q", ErrHandshakeAuthFailure, ack.PeerID)
	}
	if len(ack.EphemeralKey) != KeySize {
		return nil, fmt.Errorf("%w: responder key is %d bytes", ErrHandshakeAuthFailure, len(ack.EphemeralKey))
	}
	if len(target.LinkKey) != 0 && !bytes.Equal(ack.EphemeralKey, target.LinkKey) {
		return nil, fmt.Errorf("%w: responder key does not match the join link", ErrHandshakeAuthFailure)
	}

	t := transcript{
		version:      version.Protocol,
		room:         target.RoomID,
		initiator:    e.config.Self,
		responder:    ack.PeerID,
		initiatorKey: keyPair.Public[:],
		responderKey: ack.EphemeralKey,
	}
	secretKey := target.Secret.Bytes()
	if !tagsEqual(t.tag(secretKey, domainResponderTag), ack.Tag) {
		return nil, fmt.Errorf("%w: responder tag from %s does not verify", ErrHandshakeAuthFailure, target.Address)
	}

	shared, err := keyPair.sharedSecret(ack.EphemeralKey)
	if err != nil {
		return nil, err
	}
	key, err := deriveSessionKey(shared, secretKey, t.hash(), true)
	if err != nil {
		return nil, err
	}

	confirm, err := protocol.EncodeFrame(protocol.KindAuthTag, AuthTag{Tag: t.tag(secretKey, domainConfirmTag)})
	if err != nil {
		key.Close()
		return nil, err
	}
	if err := e.config.Sender.Send(target.Address, confirm); err != nil {
		e.logger.Warn("sending AuthTag failed", "address", target.Address, "error", err)
	}

	return &Session{
		Peer:    ack.PeerID,
		Address: target.Address,
		RoomID:  target.RoomID,
		Role:    RoleInitiator,
		Key:     key,
	}, nil
}

func (e *Engine) finish(r *run, session *Session, err error) {
	e.mu.Lock()
	r.finished = true
	if err != nil {
		r.state = Failed
	} else {
		r.state = Authenticated
	}
	if e.outbound[r.target.Address] == r {
		delete(e.outbound, r.target.Address)
	}
	r.session, r.err = session, err
	close(r.done)
	e.mu.Unlock()

	// A crossed handshake may have completed after this run gave up.
	select {
	case late := <-r.adopted:
		if late != session {
			e.accept(late)
		}
	default:
	}

	elapsed := e.clock.Now().Sub(r.started)
	switch {
	case err == nil:
		e.config.Metrics.ObserveHandshake(RoleInitiator.String(), metrics.ResultOK, elapsed)
		e.logger.Info("handshake established",
			"peer", session.Peer.Short(),
			"address", session.Address,
			"role", session.Role,
			"elapsed", elapsed,
		)
	case errors.Is(err, ErrHandshakeAuthFailure), errors.Is(err, ErrVersionMismatch):
		e.config.Metrics.ObserveHandshake(RoleInitiator.String(), metrics.ResultAuthFailure, elapsed)
		e.logger.Warn("handshake rejected", "address", r.target.Address, "error", err)
	case errors.Is(err, ErrHandshakeTimeout):
		e.config.Metrics.ObserveHandshake(RoleInitiator.String(), metrics.ResultTimeout, elapsed)
		e.logger.Warn("handshake timed out", "address", r.target.Address, "error", err)
	default:
		e.config.Metrics.ObserveHandshake(RoleInitiator.String(), metrics.ResultError, elapsed)
		e.logger.Info("handshake abandoned", "address", r.target.Address, "error", err)
	}
}

func (e *Engine) setState(r *run, state State) {
	e.mu.Lock()
	r.state = state
	e.mu.Unlock()
}

func (e *Engine) isSuperseded(r *run) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.superseded
}

// HandleFrame processes one inbound handshake frame. Envelope frames
// are not handshake frames and are ignored.
func (e *Engine) HandleFrame(from netip.AddrPort, frame protocol.Frame) {
	select {
	case <-e.closed:
		return
	default:
	}

	switch frame.Kind {
	case protocol.KindHelloInitiate:
		var hello HelloInitiate
		if err := frame.DecodeBody(&hello); err != nil {
			e.alert(from, err)
			return
		}
		e.respond(from, hello)

	case protocol.KindHelloAck:
		var ack HelloAck
		if err := frame.DecodeBody(&ack); err != nil {
			e.alert(from, err)
			return
		}
		e.mu.Lock()
		r, ok := e.outbound[from]
		e.mu.Unlock()
		if !ok {
			e.logger.Debug("dropping HelloAck with no run in flight", "address", from)
			return
		}
		select {
		case r.acks <- ack:
		default:
			e.logger.Debug("dropping HelloAck, run backlog full", "address", from)
		}

	case protocol.KindAuthTag:
		var tag AuthTag
		if err := frame.DecodeBody(&tag); err != nil {
			e.alert(from, err)
			return
		}
		e.confirm(from, tag)
	}
}

// Close aborts every run in flight and zeroes pending responder keys.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })

	e.mu.Lock()
	defer e.mu.Unlock()
	for address, pending := range e.inbound {
		pending.key.Close()
		delete(e.inbound, address)
	}
	return nil
}

func (e *Engine) accept(session *Session) {
	if e.config.Accept == nil {
		session.Close()
		return
	}
	e.config.Accept(session)
}

func (e *Engine) alert(from netip.AddrPort, err error) {
	e.logger.Warn("handshake frame rejected", "address", from, "error", err)
	if e.config.Alert != nil {
		e.config.Alert(Failure{Address: from, Err: err})
	}
}
