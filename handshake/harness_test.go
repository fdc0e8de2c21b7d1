// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"bytes"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/resonance-mesh/resonance/lib/clock"
	"github.com/resonance-mesh/resonance/lib/logging"
	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/lib/secret"
	"github.com/resonance-mesh/resonance/protocol"
)

const testTimeout = 2 * time.Second

var (
	addressAlpha = netip.MustParseAddrPort("10.0.0.1:7700")
	addressBeta  = netip.MustParseAddrPort("10.0.0.2:7700")

	epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

type datagram struct {
	from, to netip.AddrPort
	payload  []byte
}

// wire connects engines in memory. Delivery is asynchronous unless the
// wire is holding, in which case datagrams queue until release.
type wire struct {
	mu      sync.Mutex
	engines map[netip.AddrPort]*Engine
	filter  func(datagram) []byte
	holding bool
	held    []datagram
	sent    map[protocol.FrameKind]int
	hellos  [][]byte
}

func newWire() *wire {
	return &wire{
		engines: make(map[netip.AddrPort]*Engine),
		sent:    make(map[protocol.FrameKind]int),
	}
}

type wireSender struct {
	wire *wire
	from netip.AddrPort
}

func (s wireSender) Send(to netip.AddrPort, payload []byte) error {
	s.wire.send(datagram{from: s.from, to: to, payload: bytes.Clone(payload)})
	return nil
}

func (w *wire) send(d datagram) {
	w.mu.Lock()
	if frame, err := protocol.DecodeFrame(d.payload); err == nil {
		w.sent[frame.Kind]++
		if frame.Kind == protocol.KindHelloInitiate {
			var hello HelloInitiate
			if frame.DecodeBody(&hello) == nil {
				w.hellos = append(w.hellos, hello.EphemeralKey)
			}
		}
	}
	if w.filter != nil {
		d.payload = w.filter(d)
		if d.payload == nil {
			w.mu.Unlock()
			return
		}
	}
	if w.holding {
		w.held = append(w.held, d)
		w.mu.Unlock()
		return
	}
	engine := w.engines[d.to]
	w.mu.Unlock()
	if engine != nil {
		go deliver(engine, d)
	}
}

// release stops holding and delivers the queue synchronously, in order.
func (w *wire) release() {
	w.mu.Lock()
	held := w.held
	w.held = nil
	w.holding = false
	w.mu.Unlock()
	for _, d := range held {
		w.mu.Lock()
		engine := w.engines[d.to]
		w.mu.Unlock()
		if engine != nil {
			deliver(engine, d)
		}
	}
}

func (w *wire) count(kind protocol.FrameKind) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent[kind]
}

func (w *wire) heldCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.held)
}

func deliver(engine *Engine, d datagram) {
	frame, err := protocol.DecodeFrame(d.payload)
	if err != nil {
		return
	}
	engine.HandleFrame(d.from, frame)
}

// rewriteFrame decodes a frame of the given kind, lets edit modify the
// body, and re-encodes it. Frames of other kinds pass unchanged.
func rewriteFrame[T any](payload []byte, kind protocol.FrameKind, edit func(*T)) []byte {
	frame, err := protocol.DecodeFrame(payload)
	if err != nil || frame.Kind != kind {
		return payload
	}
	var body T
	if err := frame.DecodeBody(&body); err != nil {
		return payload
	}
	edit(&body)
	rewritten, err := protocol.EncodeFrame(kind, body)
	if err != nil {
		return payload
	}
	return rewritten
}

type testResolver struct {
	secret      []byte
	keyPair     *KeyPair
	linkID      string
	gate        chan struct{}
	err         error
	calls       atomic.Int32
	established atomic.Int32

	// confirmErr is returned from Established.
	confirmErr error
}

func (r *testResolver) ResolveSecret(request ResolveRequest) (Credentials, error) {
	r.calls.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return Credentials{}, r.err
	}
	buffer, err := secret.NewFromBytes(bytes.Clone(r.secret))
	if err != nil {
		return Credentials{}, err
	}
	credentials := Credentials{
		Secret:      buffer,
		LinkID:      r.linkID,
		Established: func() error {
			r.established.Add(1)
			return r.confirmErr
		},
	}
	if r.keyPair != nil {
		clone, err := r.keyPair.Clone()
		if err != nil {
			buffer.Close()
			return Credentials{}, err
		}
		credentials.KeyPair = clone
	}
	return credentials, nil
}

type testPeer struct {
	id       ref.PeerID
	address  netip.AddrPort
	engine   *Engine
	resolver *testResolver
	accepted chan *Session
	alerts   chan Failure
}

func newTestPeer(t *testing.T, w *wire, id ref.PeerID, address netip.AddrPort, resolver *testResolver, clk clock.Clock) *testPeer {
	t.Helper()
	peer := &testPeer{
		id:       id,
		address:  address,
		resolver: resolver,
		accepted: make(chan *Session, 8),
		alerts:   make(chan Failure, 8),
	}
	peer.engine = New(Config{
		Self:        id,
		Sender:      wireSender{wire: w, from: address},
		Resolver:    resolver,
		Clock:       clk,
		Timeout:     testTimeout,
		MaxAttempts: 3,
		Logger:      logging.Discard(),
		Accept:      func(session *Session) { peer.accepted <- session },
		Alert:       func(failure Failure) { peer.alerts <- failure },
	})
	w.mu.Lock()
	w.engines[address] = peer.engine
	w.mu.Unlock()
	t.Cleanup(func() { peer.engine.Close() })
	return peer
}

var meshSecret = bytes.Repeat([]byte{0x42}, KeySize)

func newSecret(t *testing.T, material []byte) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes(bytes.Clone(material))
	if err != nil {
		t.Fatalf("secret.NewFromBytes: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

// orderedPeerIDs returns two fresh peer IDs, smaller first.
func orderedPeerIDs() (ref.PeerID, ref.PeerID) {
	first, second := ref.NewPeerID(), ref.NewPeerID()
	if second.Less(first) {
		return second, first
	}
	return first, second
}

type initiateResult struct {
	session *Session
	err     error
}
