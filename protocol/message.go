// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"

	"github.com/resonance-mesh/resonance/lib/codec"
	"github.com/resonance-mesh/resonance/lib/ref"
)

// MessageType tags the body of a [Message].
type MessageType string

const (
	TypeJoinRequest    MessageType = "join-request"
	TypeJoinApproved   MessageType = "join-approved"
	TypeJoinDenied     MessageType = "join-denied"
	TypePeerListGossip MessageType = "peer-list-gossip"
	TypeLeaveNotice    MessageType = "leave-notice"
	TypeSdpOffer       MessageType = "sdp-offer"
	TypeSdpAnswer      MessageType = "sdp-answer"
	TypeIceCandidate   MessageType = "ice-candidate"
)

// ErrUnknownMessage is returned by Decode for a type tag this build
// does not know.
var ErrUnknownMessage = errors.New("unknown message type")

// Body is implemented by every message body type.
type Body interface {
	MessageType() MessageType
}

// Message is the plaintext of one envelope.
type Message struct {
	Type MessageType      `cbor:"t"`
	Body codec.RawMessage `cbor:"b"`
}

// NewMessage wraps body under its type tag.
func NewMessage(body Body) (Message, error) {
	encoded, err := codec.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s: %w", body.MessageType(), err)
	}
	return Message{Type: body.MessageType(), Body: encoded}, nil
}

// Marshal encodes body as a complete envelope plaintext.
func Marshal(body Body) ([]byte, error) {
	message, err := NewMessage(body)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(message)
}

// Unmarshal decodes an envelope plaintext into its concrete body.
func Unmarshal(data []byte) (Body, error) {
	var message Message
	if err := codec.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	return message.Decode()
}

// Decode returns the concrete body: one of *JoinRequest,
// *JoinApproved, *JoinDenied, *PeerListGossip, *LeaveNotice, *SdpOffer,
// *SdpAnswer, or *IceCandidate.
func (m Message) Decode() (Body, error) {
	var body Body
	switch m.Type {
	case TypeJoinRequest:
		body = &JoinRequest{}
	case TypeJoinApproved:
		body = &JoinApproved{}
	case TypeJoinDenied:
		body = &JoinDenied{}
	case TypePeerListGossip:
		body = &PeerListGossip{}
	case TypeLeaveNotice:
		body = &LeaveNotice{}
	case TypeSdpOffer:
		body = &SdpOffer{}
	case TypeSdpAnswer:
		body = &SdpAnswer{}
	case TypeIceCandidate:
		body = &IceCandidate{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
	if err := codec.Unmarshal(m.Body, body); err != nil {
		return nil, fmt.Errorf("decoding %s body: %w", m.Type, err)
	}
	return body, nil
}

// PeerInfo describes one member as the sender knows it.
type PeerInfo struct {
	ID      ref.PeerID `cbor:"id"`
	Name    string     `cbor:"name"`
	Address string     `cbor:"addr"`

	// Joined is when the member was admitted, in Unix nanoseconds. It
	// tells a rejoin apart from the membership a departure ended.
	Joined int64 `cbor:"joined,omitempty"`
}

// Departure names a membership that ended with a LeaveNotice.
type Departure struct {
	ID ref.PeerID `cbor:"id"`

	// Joined is the PeerInfo.Joined of the membership that ended.
	Joined int64 `cbor:"joined,omitempty"`
}

// JoinRequest is the first message a peer sends after completing a
// link handshake.
type JoinRequest struct {
	Name string `cbor:"name"`

	// Address is where other members can reach the requester. It may
	// differ from the datagram source when the requester sits behind a
	// port-preserving NAT.
	Address string `cbor:"addr"`
}

// JoinApproved announces a new member. The approver sends it to the
// new member, which learns the room and mesh secret from it, and to
// every existing member, which learns of the new peer.
type JoinApproved struct {
	RoomID ref.RoomID `cbor:"room"`

	// Member is the newly approved peer.
	Member PeerInfo `cbor:"member"`

	// Peers is the complete member list after approval, approver and
	// new member included.
	Peers []PeerInfo `cbor:"peers"`

	// MeshSecret authenticates member-to-member handshakes. Receivers
	// move it into a secret.Buffer and zero this slice.
	MeshSecret []byte `cbor:"mesh_secret"`
}

// DenyReason explains a JoinDenied.
type DenyReason string

const (
	DenyRejected DenyReason = "rejected"
	DenyRoomFull DenyReason = "room-full"
	DenyTimeout  DenyReason = "timeout"
)

// JoinDenied refuses a JoinRequest.
type JoinDenied struct {
	Reason DenyReason `cbor:"reason"`
}

// PeerListGossip carries the sender's current member list.
type PeerListGossip struct {
	RoomID ref.RoomID `cbor:"room"`
	Peers  []PeerInfo `cbor:"peers"`

	// Departed lists peers the sender has seen announce their leave,
	// so receivers do not reconnect to them from a stale third-party
	// view. Peers the sender merely lost contact with are not listed.
	Departed []Departure `cbor:"departed,omitempty"`
}

// LeaveNotice announces the sender's departure.
type LeaveNotice struct {
	Reason string `cbor:"reason,omitempty"`
}

// SdpOffer carries an opaque session offer from the media negotiator.
type SdpOffer struct {
	Payload []byte `cbor:"p"`
}

// SdpAnswer carries an opaque session answer.
type SdpAnswer struct {
	Payload []byte `cbor:"p"`
}

// IceCandidate carries one opaque trickled candidate.
type IceCandidate struct {
	Payload []byte `cbor:"p"`
}

func (*JoinRequest) MessageType() MessageType    { return TypeJoinRequest }
func (*JoinApproved) MessageType() MessageType   { return TypeJoinApproved }
func (*JoinDenied) MessageType() MessageType     { return TypeJoinDenied }
func (*PeerListGossip) MessageType() MessageType { return TypePeerListGossip }
func (*LeaveNotice) MessageType() MessageType    { return TypeLeaveNotice }
func (*SdpOffer) MessageType() MessageType       { return TypeSdpOffer }
func (*SdpAnswer) MessageType() MessageType      { return TypeSdpAnswer }
func (*IceCandidate) MessageType() MessageType   { return TypeIceCandidate }
