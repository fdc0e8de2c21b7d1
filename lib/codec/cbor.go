// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import "github.com/fxamacker/cbor/v2"

// maxContainerItems bounds arrays and maps in decoded input. The
// largest legitimate container is a peer list of a full room.
const maxContainerItems = 1024

// maxNesting bounds nesting depth in decoded input.
const maxNesting = 16

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// ref.PeerID, ref.RoomID and ref.RequestID carry unexported UUIDs
	// and serialize through MarshalText.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxNestedLevels:  maxNesting,
		MaxArrayElements: maxContainerItems,
		MaxMapPairs:      maxContainerItems,
		TextUnmarshaler:  cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Trailing bytes after the first
// data item are an error: a datagram carries exactly one item.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, used to delay decoding of a
// frame body until its kind is known.
type RawMessage = cbor.RawMessage

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for data.
// Used in debug logging of rejected frames.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
