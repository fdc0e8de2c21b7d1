// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"bytes"
	"fmt"
	"net/netip"
	"time"

	"github.com/resonance-mesh/resonance/lib/metrics"
	"github.com/resonance-mesh/resonance/lib/version"
	"github.com/resonance-mesh/resonance/protocol"
)

// respond answers a HelloInitiate with a HelloAck and parks the
// derived key until the initiator's AuthTag arrives.
func (e *Engine) respond(from netip.AddrPort, hello HelloInitiate) {
	if hello.Version != version.Protocol {
		e.alert(from, fmt.Errorf("%w: remote speaks %d, local %d", ErrVersionMismatch, hello.Version, version.Protocol))
		return
	}
	if hello.PeerID.IsZero() || hello.PeerID == e.config.Self || hello.RoomID.IsZero() ||
		len(hello.EphemeralKey) != KeySize || (len(hello.LinkKey) != 0 && len(hello.LinkKey) != KeySize) {
		e.alert(from, fmt.Errorf("%w: malformed HelloInitiate", protocol.ErrMalformedFrame))
		return
	}

	e.mu.Lock()
	if r, ok := e.outbound[from]; ok && !r.finished {
		if e.config.Self.Less(hello.PeerID) {
			e.mu.Unlock()
			e.logger.Debug("crossed handshake, keeping local run", "address", from, "remote", hello.PeerID.Short())
			return
		}
		if !r.superseded {
			r.superseded = true
			close(r.supersede)
		}
	}
	if pending, ok := e.inbound[from]; ok && bytes.Equal(pending.initiatorKey, hello.EphemeralKey) {
		ack := pending.ack
		e.mu.Unlock()
		e.send(from, ack)
		return
	}
	e.mu.Unlock()

	credentials, err := e.config.Resolver.ResolveSecret(ResolveRequest{
		Address:   from,
		RoomID:    hello.RoomID,
		Initiator: hello.PeerID,
		LinkKey:   hello.LinkKey,
	})
	if err != nil {
		e.config.Metrics.ObserveHandshake(RoleResponder.String(), metrics.ResultError, 0)
		e.alert(from, err)
		return
	}
	pending, ack, err := e.prepareResponse(hello, credentials)
	credentials.close()
	if err != nil {
		e.alert(from, err)
		return
	}

	now := e.clock.Now()
	pending.created = now
	e.mu.Lock()
	if previous, ok := e.inbound[from]; ok {
		previous.key.Close()
	}
	e.inbound[from] = pending
	e.pruneLocked(now)
	e.mu.Unlock()

	e.send(from, ack)
}

func (e *Engine) prepareResponse(hello HelloInitiate, credentials Credentials) (*pendingResponse, []byte, error) {
	if credentials.Secret == nil || credentials.Secret.Len() != KeySize {
		return nil, nil, fmt.Errorf("resolved secret must be %d bytes", KeySize)
	}
	keyPair := credentials.KeyPair
	if keyPair == nil {
		generated, err := GenerateKeyPair()
		if err != nil {
			return nil, nil, err
		}
		defer generated.Close()
		keyPair = generated
	}

	t := transcript{
		version:      version.Protocol,
		room:         hello.RoomID,
		initiator:    hello.PeerID,
		responder:    e.config.Self,
		initiatorKey: hello.EphemeralKey,
		responderKey: keyPair.Public[:],
	}
	secretKey := credentials.Secret.Bytes()

	shared, err := keyPair.sharedSecret(hello.EphemeralKey)
	if err != nil {
		return nil, nil, err
	}
	key, err := deriveSessionKey(shared, secretKey, t.hash(), false)
	if err != nil {
		return nil, nil, err
	}

	ack, err := protocol.EncodeFrame(protocol.KindHelloAck, HelloAck{
		Version:      version.Protocol,
		RoomID:       hello.RoomID,
		PeerID:       e.config.Self,
		EphemeralKey: keyPair.Public[:],
		Echo:         hello.EphemeralKey,
		Tag:          t.tag(secretKey, domainResponderTag),
	})
	if err != nil {
		key.Close()
		return nil, nil, err
	}

	return &pendingResponse{
		initiator:    hello.PeerID,
		initiatorKey: bytes.Clone(hello.EphemeralKey),
		room:         hello.RoomID,
		key:          key,
		confirmTag:   t.tag(secretKey, domainConfirmTag),
		linkID:       credentials.LinkID,
		established:  credentials.Established,
		ack:          ack,
	}, ack, nil
}

// confirm checks the initiator's AuthTag and reports the session.
func (e *Engine) confirm(from netip.AddrPort, tag AuthTag) {
	e.mu.Lock()
	pending, ok := e.inbound[from]
	if !ok {
		e.mu.Unlock()
		e.logger.Debug("dropping AuthTag with no pending response", "address", from)
		return
	}
	delete(e.inbound, from)
	e.mu.Unlock()

	if !tagsEqual(pending.confirmTag, tag.Tag) {
		pending.key.Close()
		e.config.Metrics.ObserveHandshake(RoleResponder.String(), metrics.ResultAuthFailure, 0)
		e.alert(from, fmt.Errorf("%w: confirmation tag from %s does not verify", ErrHandshakeAuthFailure, pending.initiator.Short()))
		return
	}

	if pending.established != nil {
		if err := pending.established(); err != nil {
			pending.key.Close()
			e.config.Metrics.ObserveHandshake(RoleResponder.String(), metrics.ResultError, 0)
			e.alert(from, err)
			return
		}
	}

	session := &Session{
		Peer:    pending.initiator,
		Address: from,
		RoomID:  pending.room,
		Role:    RoleResponder,
		LinkID:  pending.linkID,
		Key:     pending.key,
	}
	adopted := false
	e.mu.Lock()
	if r, ok := e.outbound[from]; ok && r.superseded && !r.finished {
		select {
		case r.adopted <- session:
			adopted = true
		default:
		}
	}
	e.mu.Unlock()

	elapsed := e.clock.Now().Sub(pending.created)
	e.config.Metrics.ObserveHandshake(RoleResponder.String(), metrics.ResultOK, elapsed)
	e.logger.Info("handshake established",
		"peer", session.Peer.Short(),
		"address", from,
		"role", session.Role,
		"link", session.LinkID,
	)
	if !adopted {
		e.accept(session)
	}
}

// pruneLocked drops responder state the initiator has abandoned.
func (e *Engine) pruneLocked(now time.Time) {
	limit := e.config.Timeout * time.Duration(e.config.MaxAttempts)
	for address, pending := range e.inbound {
		if now.Sub(pending.created) > limit {
			pending.key.Close()
			delete(e.inbound, address)
		}
	}
}

func (e *Engine) send(to netip.AddrPort, payload []byte) {
	if err := e.config.Sender.Send(to, payload); err != nil {
		e.logger.Warn("sending handshake frame failed", "address", to, "error", err)
	}
}
