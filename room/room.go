// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/resonance-mesh/resonance/lib/clock"
	"github.com/resonance-mesh/resonance/lib/metrics"
	"github.com/resonance-mesh/resonance/lib/ref"
)

const (
	defaultRequestTTL    = 2 * time.Minute
	defaultSuspectHold   = time.Minute
	defaultSweepInterval = time.Second
)

// Config configures a Room.
type Config struct {
	// Self is the local peer. Create and Adopt make it a member.
	Self ref.PeerID

	// RequestTTL bounds how long a join request may wait for a
	// decision before it resolves as TimedOut.
	RequestTTL time.Duration

	// SuspectHold is how long a peer removed by Evict is kept out of
	// merged views.
	SuspectHold time.Duration

	// SweepInterval is how often pending requests and suspects are
	// checked for expiry.
	SweepInterval time.Duration

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// JoinRequest describes a requester asking to join.
type JoinRequest struct {
	Requester ref.PeerID
	Name      string
	Address   netip.AddrPort
	LinkID    string
}

// ApproveResult is the room after a successful Approve.
type ApproveResult struct {
	Request PendingJoinRequest
	Member  Peer
	Members []Peer
}

// MergeResult lists the changes Merge applied.
type MergeResult struct {
	Added   []Peer
	Removed []Peer
}

// Room is the membership actor for one room.
type Room struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	commands chan func(*state)
	events   chan Event

	closeOnce sync.Once
	closing   chan struct{}
	stopped   chan struct{}
}

type state struct {
	room   *Room
	roomID ref.RoomID

	members     map[ref.PeerID]*Peer
	pending     map[ref.RequestID]*PendingJoinRequest
	byRequester map[ref.PeerID]ref.RequestID
	departed    map[ref.PeerID]*tombstone

	// queue holds events not yet taken from the events channel.
	queue []Event
}

// tombstone records a membership that ended. peer.JoinedAt names the
// membership, so only a later admission of the same peer replaces it.
type tombstone struct {
	peer     Peer
	recorded time.Time

	// local marks a removal by this node's own failure detection. Local
	// tombstones are not gossiped and expire after SuspectHold.
	local bool
}

// New starts a Room actor. The room has no RoomID until Create or
// Adopt.
func New(config Config) *Room {
	if config.RequestTTL <= 0 {
		config.RequestTTL = defaultRequestTTL
	}
	if config.SuspectHold <= 0 {
		config.SuspectHold = defaultSuspectHold
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaultSweepInterval
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Room{
		config:   config,
		clock:    config.Clock,
		logger:   logger.With("component", "room"),
		commands: make(chan func(*state)),
		events:   make(chan Event),
		closing:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Events returns the ordered stream of membership events. It is closed
// after Close. Events queue inside the actor until taken.
func (r *Room) Events() <-chan Event { return r.events }

// Close stops the actor. Queued events not yet taken are discarded.
func (r *Room) Close() {
	r.closeOnce.Do(func() { close(r.closing) })
	<-r.stopped
}

func (r *Room) run() {
	defer close(r.stopped)
	defer close(r.events)

	s := &state{
		room:        r,
		members:     make(map[ref.PeerID]*Peer),
		pending:     make(map[ref.RequestID]*PendingJoinRequest),
		byRequester: make(map[ref.PeerID]ref.RequestID),
		departed:    make(map[ref.PeerID]*tombstone),
	}
	sweep := r.clock.NewTicker(r.config.SweepInterval)
	defer sweep.Stop()

	for {
		var out chan<- Event
		var next Event
		if len(s.queue) > 0 {
			out = r.events
			next = s.queue[0]
		}
		select {
		case <-r.closing:
			return
		case command := <-r.commands:
			command(s)
		case out <- next:
			s.queue[0] = nil
			s.queue = s.queue[1:]
		case <-sweep.C:
			s.expire(r.clock.Now())
		}
	}
}

// do runs fn on the actor and waits for it.
func (r *Room) do(ctx context.Context, fn func(*state)) error {
	done := make(chan struct{})
	command := func(s *state) {
		defer close(done)
		fn(s)
	}
	select {
	case r.commands <- command:
	case <-r.closing:
		return ErrClosed
	case <-r.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Create founds a new room with self as its only member.
func (r *Room) Create(ctx context.Context, self Peer) (ref.RoomID, error) {
	var roomID ref.RoomID
	var err error
	if doErr := r.do(ctx, func(s *state) {
		if !s.roomID.IsZero() {
			err = ErrRoomExists
			return
		}
		s.roomID = ref.NewRoomID()
		s.admit(self)
		roomID = s.roomID
		r.logger.Info("room created", "room", roomID, "self", self.ID.Short())
		s.publishMembers()
	}); doErr != nil {
		return ref.RoomID{}, doErr
	}
	return roomID, err
}

// Adopt sets the RoomID and member list learned from a JoinApproved.
// Self is always kept; other members beyond capacity are dropped.
func (r *Room) Adopt(ctx context.Context, roomID ref.RoomID, members []Peer) error {
	if roomID.IsZero() {
		return fmt.Errorf("adopting room: zero RoomID")
	}
	var err error
	if doErr := r.do(ctx, func(s *state) {
		if !s.roomID.IsZero() {
			err = ErrRoomExists
			return
		}
		s.roomID = roomID
		ordered := slices.Clone(members)
		// Self first so capacity never excludes it.
		slices.SortStableFunc(ordered, func(a, b Peer) int {
			return cmp.Compare(boolRank(a.ID != r.config.Self), boolRank(b.ID != r.config.Self))
		})
		for _, peer := range ordered {
			if peer.ID.IsZero() {
				continue
			}
			if _, ok := s.members[peer.ID]; ok {
				continue
			}
			if len(s.members) >= MaxMembers {
				r.logger.Warn("adopted member list exceeds capacity", "dropped", peer.ID.Short())
				continue
			}
			s.admit(peer)
		}
		r.logger.Info("room adopted", "room", roomID, "members", len(s.members))
		s.publishMembers()
	}); doErr != nil {
		return doErr
	}
	return err
}

// RequestJoin records a pending join request. A second request from
// the same requester returns the request already pending.
func (r *Room) RequestJoin(ctx context.Context, request JoinRequest) (PendingJoinRequest, error) {
	if request.Requester.IsZero() {
		return PendingJoinRequest{}, fmt.Errorf("join request: zero requester")
	}
	var result PendingJoinRequest
	var err error
	if doErr := r.do(ctx, func(s *state) {
		result, err = s.requestJoin(request)
	}); doErr != nil {
		return PendingJoinRequest{}, doErr
	}
	return result, err
}

// Approve admits the requester of a pending request. At capacity it
// returns ErrRoomFull and leaves the request pending.
func (r *Room) Approve(ctx context.Context, id ref.RequestID) (ApproveResult, error) {
	var result ApproveResult
	var err error
	if doErr := r.do(ctx, func(s *state) {
		result, err = s.approve(id)
	}); doErr != nil {
		return ApproveResult{}, doErr
	}
	return result, err
}

// Deny refuses a pending request.
func (r *Room) Deny(ctx context.Context, id ref.RequestID) (PendingJoinRequest, error) {
	var result PendingJoinRequest
	var err error
	if doErr := r.do(ctx, func(s *state) {
		request, ok := s.pending[id]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownRequest, id)
			return
		}
		result = *request
		s.resolve(request, Denied)
	}); doErr != nil {
		return PendingJoinRequest{}, doErr
	}
	return result, err
}

// Leave removes a member that announced its departure and records a
// tombstone for it. The tombstone is listed in Snapshot.Departed.
func (r *Room) Leave(ctx context.Context, peer ref.PeerID, reason string) (Peer, error) {
	return r.removeMember(ctx, peer, reason, false)
}

// Evict removes a member this node lost contact with. The removal is
// local: it is not listed in Snapshot.Departed, and it keeps the peer
// out of merged views only for SuspectHold, during which the peer is
// listed in Snapshot.Suspects.
func (r *Room) Evict(ctx context.Context, peer ref.PeerID, reason string) (Peer, error) {
	return r.removeMember(ctx, peer, reason, true)
}

func (r *Room) removeMember(ctx context.Context, peer ref.PeerID, reason string, local bool) (Peer, error) {
	var result Peer
	var err error
	if doErr := r.do(ctx, func(s *state) {
		removed, ok := s.remove(peer, reason, local)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrNotMember, peer.Short())
			return
		}
		result = removed
		s.publishMembers()
	}); doErr != nil {
		return Peer{}, doErr
	}
	return result, err
}

// Merge applies a member view received from another peer. Unknown
// peers are added up to capacity unless a tombstone at least as recent
// as their JoinedAt exists; known peers take the reported name and
// address. Departures remove a member only if they are at least as
// recent as its JoinedAt. The local peer is never removed.
func (r *Room) Merge(ctx context.Context, roomID ref.RoomID, peers []Peer, departed []Departure) (MergeResult, error) {
	var result MergeResult
	var err error
	if doErr := r.do(ctx, func(s *state) {
		result, err = s.merge(roomID, peers, departed)
	}); doErr != nil {
		return MergeResult{}, doErr
	}
	return result, err
}

// Readmit admits a peer that authenticated with the room's mesh
// secret, which proves an earlier approval. It clears a local eviction
// but not an announced departure, which yields ErrDeparted. A member
// is returned unchanged apart from its address.
func (r *Room) Readmit(ctx context.Context, roomID ref.RoomID, peer Peer) (Peer, error) {
	var result Peer
	var err error
	if doErr := r.do(ctx, func(s *state) {
		result, err = s.readmit(roomID, peer)
	}); doErr != nil {
		return Peer{}, doErr
	}
	return result, err
}

// Touch records that peer was heard from now.
func (r *Room) Touch(ctx context.Context, peer ref.PeerID) error {
	return r.do(ctx, func(s *state) {
		if member, ok := s.members[peer]; ok {
			member.LastSeen = r.clock.Now()
		}
	})
}

// Snapshot returns a copy of the current state.
func (r *Room) Snapshot(ctx context.Context) (Snapshot, error) {
	var snapshot Snapshot
	err := r.do(ctx, func(s *state) {
		snapshot = s.snapshot()
	})
	return snapshot, err
}

func (s *state) requestJoin(request JoinRequest) (PendingJoinRequest, error) {
	r := s.room
	if s.roomID.IsZero() {
		return PendingJoinRequest{}, ErrNoRoom
	}
	if _, ok := s.members[request.Requester]; ok {
		return PendingJoinRequest{}, fmt.Errorf("%w: %s", ErrAlreadyMember, request.Requester.Short())
	}
	if id, ok := s.byRequester[request.Requester]; ok {
		return *s.pending[id], nil
	}
	if len(s.members) >= MaxMembers {
		r.config.Metrics.ObserveJoinRequest("room_full")
		r.logger.Info("join request refused, room full", "requester", request.Requester.Short())
		return PendingJoinRequest{}, ErrRoomFull
	}

	now := r.clock.Now()
	pending := &PendingJoinRequest{
		ID: ref.NewRequestID(),
		Requester: Peer{
			ID:       request.Requester,
			Name:     request.Name,
			Address:  request.Address,
			State:    Pending,
			LastSeen: now,
		},
		LinkID:     request.LinkID,
		ReceivedAt: now,
		Expires:    now.Add(r.config.RequestTTL),
	}
	s.pending[pending.ID] = pending
	s.byRequester[request.Requester] = pending.ID
	delete(s.departed, request.Requester)

	r.config.Metrics.ObserveJoinRequest("received")
	r.logger.Info("join request received",
		"request", pending.ID,
		"requester", request.Requester.Short(),
		"name", request.Name,
		"link", request.LinkID,
	)
	s.emit(JoinRequestReceived{Request: *pending})
	return *pending, nil
}

func (s *state) approve(id ref.RequestID) (ApproveResult, error) {
	request, ok := s.pending[id]
	if !ok {
		return ApproveResult{}, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if len(s.members) >= MaxMembers {
		s.room.logger.Info("approval refused, room full", "request", id)
		return ApproveResult{}, ErrRoomFull
	}
	result := ApproveResult{Request: *request}
	s.resolve(request, Approved)
	result.Member = s.admit(request.Requester)
	s.emit(PeerJoined{Peer: result.Member})
	result.Members = s.publishMembers()
	return result, nil
}

// resolve removes a pending request with its terminal outcome.
func (s *state) resolve(request *PendingJoinRequest, outcome Outcome) {
	delete(s.pending, request.ID)
	delete(s.byRequester, request.Requester.ID)
	s.room.config.Metrics.ObserveJoinRequest(outcome.String())
	s.room.logger.Info("join request resolved",
		"request", request.ID,
		"requester", request.Requester.ID.Short(),
		"outcome", outcome,
	)
	s.emit(RequestResolved{Request: *request, Outcome: outcome})
}

func (s *state) expire(now time.Time) {
	for _, request := range s.sortedPending() {
		if !now.Before(request.Expires) {
			s.resolve(s.pending[request.ID], TimedOut)
		}
	}
	for id, stone := range s.departed {
		if stone.local && now.Sub(stone.recorded) >= s.room.config.SuspectHold {
			delete(s.departed, id)
			s.room.logger.Debug("suspect hold expired", "peer", id.Short())
		}
	}
}

// admit makes peer a member. A peer without a JoinedAt is stamped with
// the current time.
func (s *state) admit(peer Peer) Peer {
	now := s.room.clock.Now()
	peer.State = Member
	if peer.JoinedAt.IsZero() {
		peer.JoinedAt = now
	}
	peer.LastSeen = now
	s.members[peer.ID] = &peer
	delete(s.departed, peer.ID)
	return peer
}

func (s *state) remove(id ref.PeerID, reason string, local bool) (Peer, bool) {
	member, ok := s.members[id]
	if !ok {
		return Peer{}, false
	}
	delete(s.members, id)
	removed := *member
	removed.State = Departed
	s.departed[id] = &tombstone{peer: removed, recorded: s.room.clock.Now(), local: local}
	s.room.logger.Info("peer left", "peer", id.Short(), "reason", reason, "local", local)
	s.emit(PeerLeft{Peer: removed, Reason: reason})
	return removed, true
}

// outranked reports whether a tombstone at least as recent as joinedAt
// exists for id.
func (s *state) outranked(id ref.PeerID, joinedAt time.Time) bool {
	stone, ok := s.departed[id]
	return ok && !joinedAt.After(stone.peer.JoinedAt)
}

func (s *state) readmit(roomID ref.RoomID, peer Peer) (Peer, error) {
	if s.roomID.IsZero() {
		return Peer{}, ErrNoRoom
	}
	if roomID != s.roomID {
		return Peer{}, fmt.Errorf("%w: %s", ErrWrongRoom, roomID)
	}
	if existing, ok := s.members[peer.ID]; ok {
		if peer.Address.IsValid() {
			existing.Address = peer.Address
		}
		return *existing, nil
	}
	if stone, ok := s.departed[peer.ID]; ok {
		if !stone.local && s.outranked(peer.ID, peer.JoinedAt) {
			return Peer{}, fmt.Errorf("%w: %s", ErrDeparted, peer.ID.Short())
		}
		if peer.Name == "" {
			peer.Name = stone.peer.Name
		}
	}
	if len(s.members) >= MaxMembers {
		return Peer{}, ErrRoomFull
	}
	admitted := s.admit(peer)
	s.room.logger.Info("peer readmitted", "peer", peer.ID.Short())
	s.emit(PeerJoined{Peer: admitted})
	s.publishMembers()
	return admitted, nil
}

func (s *state) merge(roomID ref.RoomID, peers []Peer, departed []Departure) (MergeResult, error) {
	var result MergeResult
	if s.roomID.IsZero() {
		return result, ErrNoRoom
	}
	if roomID != s.roomID {
		return result, fmt.Errorf("%w: %s", ErrWrongRoom, roomID)
	}
	self := s.room.config.Self

	now := s.room.clock.Now()
	for _, departure := range departed {
		id := departure.ID
		if id.IsZero() || id == self {
			continue
		}
		if member, ok := s.members[id]; ok {
			if member.JoinedAt.After(departure.JoinedAt) {
				continue
			}
			removed, _ := s.remove(id, "reported departed", false)
			result.Removed = append(result.Removed, removed)
			continue
		}
		stone, ok := s.departed[id]
		if ok && stone.peer.JoinedAt.After(departure.JoinedAt) {
			continue
		}
		announced := &tombstone{peer: Peer{ID: id, State: Departed}, recorded: now}
		if ok {
			announced.peer = stone.peer
		}
		announced.peer.JoinedAt = departure.JoinedAt
		s.departed[id] = announced
	}

	for _, peer := range peers {
		if peer.ID.IsZero() || peer.ID == self {
			continue
		}
		if existing, ok := s.members[peer.ID]; ok {
			if peer.Name != "" {
				existing.Name = peer.Name
			}
			if peer.Address.IsValid() {
				existing.Address = peer.Address
			}
			// Views converge on the latest admission.
			if peer.JoinedAt.After(existing.JoinedAt) {
				existing.JoinedAt = peer.JoinedAt
			}
			continue
		}
		if s.outranked(peer.ID, peer.JoinedAt) {
			continue
		}
		if len(s.members) >= MaxMembers {
			s.room.logger.Warn("merged view exceeds capacity", "dropped", peer.ID.Short())
			continue
		}
		added := s.admit(peer)
		result.Added = append(result.Added, added)
		s.emit(PeerJoined{Peer: added})
	}

	if len(result.Added) > 0 || len(result.Removed) > 0 {
		s.publishMembers()
	}
	return result, nil
}

func (s *state) publishMembers() []Peer {
	members := s.sortedMembers()
	s.room.config.Metrics.SetMembers(len(members))
	s.emit(PeerListUpdated{Members: slices.Clone(members)})
	return members
}

func (s *state) emit(event Event) {
	s.queue = append(s.queue, event)
}

func (s *state) snapshot() Snapshot {
	snapshot := Snapshot{
		RoomID:  s.roomID,
		Self:    s.room.config.Self,
		Members: s.sortedMembers(),
		Pending: s.sortedPending(),
	}
	for _, id := range slices.SortedFunc(maps.Keys(s.departed), ref.PeerID.Compare) {
		stone := s.departed[id]
		if stone.local {
			snapshot.Suspects = append(snapshot.Suspects, stone.peer)
			continue
		}
		snapshot.Departed = append(snapshot.Departed, Departure{ID: id, JoinedAt: stone.peer.JoinedAt})
	}
	return snapshot
}

func (s *state) sortedMembers() []Peer {
	members := make([]Peer, 0, len(s.members))
	for _, member := range s.members {
		members = append(members, *member)
	}
	slices.SortFunc(members, func(a, b Peer) int { return a.ID.Compare(b.ID) })
	return members
}

func (s *state) sortedPending() []PendingJoinRequest {
	pending := make([]PendingJoinRequest, 0, len(s.pending))
	for _, request := range s.pending {
		pending = append(pending, *request)
	}
	slices.SortFunc(pending, func(a, b PendingJoinRequest) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})
	return pending
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
