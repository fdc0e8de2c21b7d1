// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package link

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/resonance-mesh/resonance/handshake"
	"github.com/resonance-mesh/resonance/lib/clock"
	"github.com/resonance-mesh/resonance/lib/metrics"
	"github.com/resonance-mesh/resonance/lib/ref"
	"github.com/resonance-mesh/resonance/lib/secret"
)

var (
	// ErrUnknownLink means no outstanding link has the presented key:
	// it was never issued here, was consumed, or was evicted.
	ErrUnknownLink = errors.New("unknown join link")

	// ErrLinkExpired means the link outlived its TTL.
	ErrLinkExpired = errors.New("join link expired")

	// ErrLinkClaimed means the link was used up while this peer's
	// handshake was still confirming.
	ErrLinkClaimed = errors.New("join link already claimed by another peer")
)

// Link lifecycle events reported to metrics.
const (
	eventIssued   = "issued"
	eventConsumed = "consumed"
	eventExpired  = "expired"
)

// IssuerConfig configures an Issuer. Zero TTL and MaxOutstanding
// default to 10 minutes and 64.
type IssuerConfig struct {
	TTL            time.Duration
	MaxOutstanding int

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Issuer mints join links and resolves handshake credentials for
// them. Outstanding links live in a bounded LRU; the oldest link is
// evicted when MaxOutstanding is reached.
type Issuer struct {
	ttl     time.Duration
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Recorder

	// mu serializes resolution against consumption. The LRU has its
	// own lock.
	mu    sync.Mutex
	links *expirable.LRU[[keySize]byte, *issuedLink]
}

type issuedLink struct {
	id      string
	room    ref.RoomID
	keyPair *handshake.KeyPair
	secret  *secret.Buffer
	expires time.Time

	consumed atomic.Bool
}

// NewIssuer creates an Issuer.
func NewIssuer(config IssuerConfig) *Issuer {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.MaxOutstanding <= 0 {
		config.MaxOutstanding = 64
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	issuer := &Issuer{
		ttl:     config.TTL,
		clock:   config.Clock,
		logger:  logger.With("component", "link"),
		metrics: config.Metrics,
	}
	issuer.links = expirable.NewLRU[[keySize]byte, *issuedLink](config.MaxOutstanding, issuer.evicted, config.TTL)
	return issuer
}

// Issue mints a fresh link into room, advertising address as the
// inviter.
func (i *Issuer) Issue(room ref.RoomID, address netip.AddrPort) (JoinLink, error) {
	if room.IsZero() {
		return JoinLink{}, errors.New("cannot issue a link without a room")
	}
	if !address.IsValid() {
		return JoinLink{}, errors.New("cannot issue a link without an inviter address")
	}
	keyPair, err := handshake.GenerateKeyPair()
	if err != nil {
		return JoinLink{}, err
	}
	linkSecret, err := secret.Random(secretSize)
	if err != nil {
		keyPair.Close()
		return JoinLink{}, fmt.Errorf("generating link secret: %w", err)
	}

	link := JoinLink{RoomID: room, InviterAddress: address, InviterKey: keyPair.Public}
	copy(link.Secret[:], linkSecret.Bytes())

	entry := &issuedLink{
		id:      link.ID(),
		room:    room,
		keyPair: keyPair,
		secret:  linkSecret,
		expires: i.clock.Now().Add(i.ttl),
	}
	i.links.Add(keyPair.Public, entry)
	i.metrics.ObserveLink(eventIssued)
	i.logger.Info("join link issued", "link", entry.id, "room", room, "expires", entry.expires)
	return link, nil
}

// ResolveSecret implements handshake.SecretResolver for link
// handshakes. The returned credentials answer with the link's key pair
// and secret. Any number of presenters may resolve an outstanding
// link, since presenting the public key proves nothing; the first
// whose confirmation verifies consumes it in Established, and later
// confirmations fail with ErrLinkClaimed.
func (i *Issuer) ResolveSecret(request handshake.ResolveRequest) (handshake.Credentials, error) {
	if len(request.LinkKey) != keySize {
		return handshake.Credentials{}, fmt.Errorf("%w: link key is %d bytes", ErrUnknownLink, len(request.LinkKey))
	}
	var key [keySize]byte
	copy(key[:], request.LinkKey)

	i.mu.Lock()
	defer i.mu.Unlock()
	entry, ok := i.links.Get(key)
	if !ok || entry.consumed.Load() {
		return handshake.Credentials{}, fmt.Errorf("%w: %s", ErrUnknownLink, KeyID(key[:]))
	}
	if i.clock.Now().After(entry.expires) {
		i.links.Remove(key)
		return handshake.Credentials{}, fmt.Errorf("%w: %s", ErrLinkExpired, entry.id)
	}
	if entry.room != request.RoomID {
		return handshake.Credentials{}, fmt.Errorf("%w: %s does not belong to room %s", ErrUnknownLink, entry.id, request.RoomID)
	}
	keyPair, err := entry.keyPair.Clone()
	if err != nil {
		return handshake.Credentials{}, err
	}
	linkSecret, err := secret.NewFromBytes(bytes.Clone(entry.secret.Bytes()))
	if err != nil {
		keyPair.Close()
		return handshake.Credentials{}, err
	}
	return handshake.Credentials{
		Secret:      linkSecret,
		KeyPair:     keyPair,
		LinkID:      entry.id,
		Established: func() error { return i.consume(key, entry.id, request.Initiator) },
	}, nil
}

// consume uses up the link for a presenter that proved it holds the
// link secret.
func (i *Issuer) consume(key [keySize]byte, id string, claimant ref.PeerID) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	entry, ok := i.links.Peek(key)
	if !ok || entry.consumed.Load() {
		i.logger.Warn("join link confirmed after it was used", "link", id, "presenter", claimant.Short())
		return fmt.Errorf("%w: %s", ErrLinkClaimed, id)
	}
	entry.consumed.Store(true)
	i.links.Remove(key)
	i.logger.Info("join link consumed", "link", entry.id, "peer", claimant.Short())
	return nil
}

// Revoke forgets the link with the given inviter key.
func (i *Issuer) Revoke(key [keySize]byte) bool {
	return i.links.Remove(key)
}

// Outstanding reports how many links are issued and not yet consumed.
func (i *Issuer) Outstanding() int {
	return i.links.Len()
}

// Close forgets every outstanding link and zeroes their keys.
func (i *Issuer) Close() error {
	i.links.Purge()
	return nil
}

// evicted runs for every entry leaving the LRU, however it leaves.
func (i *Issuer) evicted(_ [keySize]byte, entry *issuedLink) {
	if entry.consumed.Load() {
		i.metrics.ObserveLink(eventConsumed)
	} else {
		i.metrics.ObserveLink(eventExpired)
		i.logger.Debug("join link dropped unused", "link", entry.id)
	}
	entry.keyPair.Close()
	entry.secret.Close()
}
