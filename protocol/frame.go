// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/resonance-mesh/resonance/lib/codec"
)

// MaxDatagramSize bounds every frame on the wire. Session descriptions
// with a full candidate list run to a few kilobytes, so this is sized
// for the UDP maximum rather than the path MTU; the kernel fragments
// as needed.
const MaxDatagramSize = 65000

// FrameKind distinguishes the four datagram kinds.
type FrameKind string

const (
	KindHelloInitiate FrameKind = "hello-initiate"
	KindHelloAck      FrameKind = "hello-ack"
	KindAuthTag       FrameKind = "auth-tag"
	KindEnvelope      FrameKind = "envelope"
)

// ErrMalformedFrame is returned for datagrams that do not decode to a
// known frame.
var ErrMalformedFrame = errors.New("malformed frame")

var cborNull = []byte{0xf6}

// Frame is one datagram.
type Frame struct {
	Kind FrameKind        `cbor:"k"`
	Body codec.RawMessage `cbor:"b"`
}

// EncodeFrame serializes body under kind.
func EncodeFrame(kind FrameKind, body any) ([]byte, error) {
	encodedBody, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", kind, err)
	}
	data, err := codec.Marshal(Frame{Kind: kind, Body: encodedBody})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", kind, err)
	}
	if len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("%s frame is %d bytes, limit %d", kind, len(data), MaxDatagramSize)
	}
	return data, nil
}

// DecodeFrame parses a datagram into a Frame. The body is left encoded
// for the owning package to decode with [Frame.DecodeBody].
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) > MaxDatagramSize {
		return Frame{}, fmt.Errorf("%w: %d bytes exceeds limit", ErrMalformedFrame, len(data))
	}
	var frame Frame
	if err := codec.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch frame.Kind {
	case KindHelloInitiate, KindHelloAck, KindAuthTag, KindEnvelope:
	default:
		return Frame{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedFrame, frame.Kind)
	}
	// An absent body decodes as CBOR null.
	if len(frame.Body) == 0 || bytes.Equal(frame.Body, cborNull) {
		return Frame{}, fmt.Errorf("%w: empty %s body", ErrMalformedFrame, frame.Kind)
	}
	return frame, nil
}

// DecodeBody decodes the frame body into v.
func (f Frame) DecodeBody(v any) error {
	if err := codec.Unmarshal(f.Body, v); err != nil {
		return fmt.Errorf("%w: %s body: %v", ErrMalformedFrame, f.Kind, err)
	}
	return nil
}
