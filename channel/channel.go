// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"sync"
	"time"

	"github.com/resonance-mesh/resonance/handshake"
	"github.com/resonance-mesh/resonance/lib/clock"
	"github.com/resonance-mesh/resonance/lib/codec"
	"github.com/resonance-mesh/resonance/lib/metrics"
	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/protocol"
)

var (
	// ErrClosed is returned by Send after Close or failure.
	ErrClosed = errors.New("channel closed")

	// ErrQueueFull is returned by Send when the send task is behind.
	// The message is dropped, as a lost datagram would be.
	ErrQueueFull = errors.New("channel send queue full")
)

// Rejection reasons reported to metrics.
const (
	reasonReplay    = "replay"
	reasonTamper    = "tamper"
	reasonSender    = "sender"
	reasonMalformed = "malformed"
)

// Sender puts one datagram on the wire.
type Sender interface {
	Send(to netip.AddrPort, payload []byte) error
}

// Config configures a Channel.
type Config struct {
	// Self is the local peer, stamped on every outbound envelope.
	Self ref.PeerID

	// Peer and Address identify the remote side.
	Peer    ref.PeerID
	Address netip.AddrPort

	// Key is the session key from the handshake. The channel takes
	// ownership and zeroes it when it stops.
	Key *handshake.SessionKey

	Transport Sender

	// ReplayWindow is the out-of-order tolerance; 0 is strict.
	ReplayWindow int
	// SendRetries is how many times a transport error is retried
	// before the channel fails. Zero defaults to 3.
	SendRetries int
	// QueueSize bounds the outbound and inbound queues. Zero defaults
	// to 64.
	QueueSize int

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Recorder

	// Deliver receives every authenticated message in order. It runs
	// on the receive task and must not block for long.
	Deliver func(peer ref.PeerID, body protocol.Body)

	// Reject receives every refused envelope, wrapped around
	// ErrDecryptionFailure. Refused envelopes never stop the channel.
	Reject func(peer ref.PeerID, err error)

	// Fail is called once if the channel stops on its own, after the
	// session key has been zeroed.
	Fail func(peer ref.PeerID, err error)
}

// Channel is the secure transport to one peer.
type Channel struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
	key    *handshake.SessionKey

	outbound chan []byte
	inbound  chan []byte

	// sequence is owned by the send task.
	sequence uint64
	// window is owned by the receive task.
	window *ReplayWindow

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	tasks     sync.WaitGroup

	mu     sync.Mutex
	reason error
}

// New starts a channel. On error the key is closed.
func New(config Config) (*Channel, error) {
	if config.Key == nil {
		return nil, errors.New("channel requires a session key")
	}
	if config.Peer.IsZero() || config.Self.IsZero() {
		config.Key.Close()
		return nil, errors.New("channel requires both peer IDs")
	}
	if config.Transport == nil {
		config.Key.Close()
		return nil, errors.New("channel requires a transport")
	}
	if config.SendRetries <= 0 {
		config.SendRetries = 3
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Channel{
		config:   config,
		clock:    config.Clock,
		logger:   logger.With("component", "channel", "peer", config.Peer.Short(), "address", config.Address),
		key:      config.Key,
		outbound: make(chan []byte, config.QueueSize),
		inbound:  make(chan []byte, config.QueueSize),
		window:   NewReplayWindow(config.ReplayWindow),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	c.tasks.Add(2)
	go c.sendLoop()
	go c.receiveLoop()
	go c.reap()
	config.Metrics.AddChannels(1)
	c.logger.Debug("channel open", "fingerprint", config.Key.Fingerprint())
	return c, nil
}

// Peer returns the remote peer.
func (c *Channel) Peer() ref.PeerID { return c.config.Peer }

// Address returns the remote address.
func (c *Channel) Address() netip.AddrPort { return c.config.Address }

// Send queues body for the peer.
func (c *Channel) Send(body protocol.Body) error {
	data, err := protocol.Marshal(body)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outbound <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return fmt.Errorf("%w: dropping %s to %s", ErrQueueFull, body.MessageType(), c.config.Peer.Short())
	}
}

// Receive hands the channel the body of an envelope frame that arrived
// from the peer's address. It never blocks; a full queue drops the
// datagram.
func (c *Channel) Receive(frame protocol.Frame) {
	if frame.Kind != protocol.KindEnvelope {
		return
	}
	select {
	case c.inbound <- frame.Body:
	case <-c.done:
	default:
		c.logger.Debug("dropping inbound envelope, queue full")
	}
}

// Close stops both tasks after sending any messages already queued.
// The key is zeroed once they have exited; Done is closed at that
// point. Idempotent.
func (c *Channel) Close() error {
	c.stop(nil)
	return nil
}

// Done is closed once the channel has stopped and zeroed its key.
func (c *Channel) Done() <-chan struct{} { return c.stopped }

// Err returns why the channel stopped on its own, or nil.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Channel) stop(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

// reap waits for both tasks, then zeroes the key.
func (c *Channel) reap() {
	c.tasks.Wait()
	c.key.Close()
	c.config.Metrics.AddChannels(-1)
	close(c.stopped)

	reason := c.Err()
	if reason == nil {
		c.logger.Debug("channel closed")
		return
	}
	c.logger.Warn("channel failed", "error", reason)
	if c.config.Fail != nil {
		c.config.Fail(c.config.Peer, reason)
	}
}

func (c *Channel) sendLoop() {
	defer c.tasks.Done()
	for {
		select {
		case <-c.done:
			if c.Err() == nil {
				c.flush()
			}
			return
		case plaintext := <-c.outbound:
			if err := c.transmit(plaintext); err != nil {
				c.stop(err)
				return
			}
		}
	}
}

// flush sends whatever was queued before Close, without retries.
func (c *Channel) flush() {
	for {
		select {
		case plaintext := <-c.outbound:
			if err := c.transmit(plaintext); err != nil {
				return
			}
		default:
			return
		}
	}
}

// transmit seals plaintext under the next sequence number and sends
// it, retrying transport errors with a short linear backoff.
func (c *Channel) transmit(plaintext []byte) error {
	if c.sequence == math.MaxUint64 {
		return errors.New("send sequence exhausted")
	}
	c.sequence++
	envelope, err := seal(c.key.SendKey(), c.config.Self, c.sequence, plaintext)
	if err != nil {
		return err
	}
	payload, err := protocol.EncodeFrame(protocol.KindEnvelope, envelope)
	if err != nil {
		// Too large or unencodable: drop this message, keep the channel.
		c.logger.Warn("dropping unencodable message", "sequence", envelope.Sequence, "error", err)
		return nil
	}

	for attempt := 0; ; attempt++ {
		err = c.config.Transport.Send(c.config.Address, payload)
		if err == nil {
			c.config.Metrics.ObserveEnvelopeSent()
			return nil
		}
		if attempt >= c.config.SendRetries {
			return fmt.Errorf("sending envelope %d after %d attempts: %w", envelope.Sequence, attempt+1, err)
		}
		c.logger.Debug("send failed, retrying", "sequence", envelope.Sequence, "attempt", attempt+1, "error", err)
		select {
		case <-c.clock.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		case <-c.done:
			return nil
		}
	}
}

func (c *Channel) receiveLoop() {
	defer c.tasks.Done()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.inbound:
			c.handle(data)
		}
	}
}

func (c *Channel) handle(data []byte) {
	var envelope Envelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		c.refuse(reasonMalformed, fmt.Errorf("%w: undecodable envelope: %v", ErrDecryptionFailure, err))
		return
	}
	if envelope.Sender != c.config.Peer {
		c.refuse(reasonSender, fmt.Errorf("%w: envelope claims sender %s", ErrDecryptionFailure, envelope.Sender.Short()))
		return
	}
	if !c.window.Check(envelope.Sequence) {
		c.refuse(reasonReplay, fmt.Errorf("%w: replayed sequence %d (highest %d)", ErrDecryptionFailure, envelope.Sequence, c.window.Highest()))
		return
	}
	plaintext, err := open(c.key.ReceiveKey(), envelope)
	if err != nil {
		c.refuse(reasonTamper, err)
		return
	}
	c.window.Accept(envelope.Sequence)
	c.config.Metrics.ObserveEnvelopeReceived()

	body, err := protocol.Unmarshal(plaintext)
	if err != nil {
		// Authentic but not understood, likely a newer peer.
		c.logger.Info("dropping message", "sequence", envelope.Sequence, "error", err)
		return
	}
	if c.config.Deliver != nil {
		c.config.Deliver(c.config.Peer, body)
	}
}

func (c *Channel) refuse(reason string, err error) {
	c.config.Metrics.ObserveEnvelopeRejected(reason)
	c.logger.Warn("envelope refused", "reason", reason, "error", err)
	if c.config.Reject != nil {
		c.config.Reject(c.config.Peer, err)
	}
}
