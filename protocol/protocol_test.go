// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/resonance-mesh/resonance/lib/codec"
	"github.com/resonance-mesh/resonance/lib/ref"
)

func TestFrameRoundtrip(t *testing.T) {
	body := map[string]string{"hello": "world"}
	data, err := EncodeFrame(KindHelloInitiate, body)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Kind != KindHelloInitiate {
		t.Errorf("Kind = %q, want %q", frame.Kind, KindHelloInitiate)
	}
	var decoded map[string]string
	if err := frame.DecodeBody(&decoded); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if decoded["hello"] != "world" {
		t.Errorf("body = %v", decoded)
	}
}

func TestDecodeFrame_Rejects(t *testing.T) {
	unknownKind, _ := codec.Marshal(Frame{Kind: "gossip", Body: []byte{0x01}})
	emptyBody, _ := codec.Marshal(Frame{Kind: KindEnvelope})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not cbor at all")},
		{"unknown kind", unknownKind},
		{"empty body", emptyBody},
		{"oversized", bytes.Repeat([]byte{0}, MaxDatagramSize+1)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := DecodeFrame(test.data)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("DecodeFrame error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestEncodeFrame_Oversized(t *testing.T) {
	_, err := EncodeFrame(KindEnvelope, bytes.Repeat([]byte{1}, MaxDatagramSize))
	if err == nil {
		t.Fatal("EncodeFrame accepted an oversized body")
	}
}

func TestMessageRoundtrip(t *testing.T) {
	room := ref.NewRoomID()
	alpha := PeerInfo{ID: ref.NewPeerID(), Name: "alpha", Address: "10.0.0.1:7700", Joined: 1767225600000000000}
	beta := PeerInfo{ID: ref.NewPeerID(), Name: "beta", Address: "10.0.0.2:7700"}

	bodies := []Body{
		&JoinRequest{Name: "beta", Address: beta.Address},
		&JoinApproved{RoomID: room, Member: beta, Peers: []PeerInfo{alpha, beta}, MeshSecret: bytes.Repeat([]byte{7}, 32)},
		&JoinDenied{Reason: DenyRoomFull},
		&PeerListGossip{RoomID: room, Peers: []PeerInfo{alpha}, Departed: []Departure{{ID: beta.ID, Joined: 1767225600000000000}}},
		&LeaveNotice{Reason: "user quit"},
		&SdpOffer{Payload: []byte(`{"type":"offer"}`)},
		&SdpAnswer{Payload: []byte(`{"type":"answer"}`)},
		&IceCandidate{Payload: []byte(`{"candidate":"host"}`)},
	}
	for _, body := range bodies {
		t.Run(string(body.MessageType()), func(t *testing.T) {
			data, err := Marshal(body)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			decoded, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if decoded.MessageType() != body.MessageType() {
				t.Fatalf("type = %q, want %q", decoded.MessageType(), body.MessageType())
			}
			reencoded, err := Marshal(decoded)
			if err != nil {
				t.Fatalf("re-Marshal: %v", err)
			}
			if !bytes.Equal(data, reencoded) {
				t.Errorf("re-encoding differs:\n%x\n%x", data, reencoded)
			}
		})
	}
}

func TestMessageDecode_TypeSwitch(t *testing.T) {
	data, err := Marshal(&JoinDenied{Reason: DenyTimeout})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	body, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	denied, ok := body.(*JoinDenied)
	if !ok {
		t.Fatalf("decoded %T, want *JoinDenied", body)
	}
	if denied.Reason != DenyTimeout {
		t.Errorf("Reason = %q, want %q", denied.Reason, DenyTimeout)
	}
}

func TestMessageDecode_UnknownType(t *testing.T) {
	data, err := codec.Marshal(Message{Type: "teleport", Body: []byte{0xa0}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	_, err = Unmarshal(data)
	if !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("Unmarshal error = %v, want ErrUnknownMessage", err)
	}
	if !strings.Contains(err.Error(), "teleport") {
		t.Errorf("error %q does not name the type", err)
	}
}
