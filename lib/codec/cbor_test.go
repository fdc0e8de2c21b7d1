// Copyright 2026 The Resonance Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/resonance-mesh/resonance/lib/ref"
)

type sampleFrame struct {
	Kind   string     `cbor:"k"`
	Sender ref.PeerID `cbor:"s"`
	Count  int        `cbor:"n"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleFrame{
		Kind:   "hello",
		Sender: ref.NewPeerID(),
		Count:  42,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleFrame
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	message := map[string]int{"zulu": 1, "alpha": 2, "mike": 3}

	first, err := Marshal(message)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(message)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestIdentifierEncodesAsText(t *testing.T) {
	peer := ref.NewPeerID()
	data, err := Marshal(sampleFrame{Kind: "x", Sender: peer})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Contains(data, []byte(peer.String())) {
		t.Errorf("encoded frame does not contain the peer ID text form: %x", data)
	}
}

func TestUnmarshalRejectsTrailingBytes(t *testing.T) {
	data, err := Marshal(sampleFrame{Kind: "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	data = append(data, 0x00)

	var decoded sampleFrame
	if err := Unmarshal(data, &decoded); err == nil {
		t.Fatal("Unmarshal accepted trailing bytes")
	}
}

func TestUnmarshalRejectsDuplicateKeys(t *testing.T) {
	// {"k": "a", "k": "b"}
	data := []byte{0xa2, 0x61, 'k', 0x61, 'a', 0x61, 'k', 0x61, 'b'}

	var decoded sampleFrame
	if err := Unmarshal(data, &decoded); err == nil {
		t.Fatal("Unmarshal accepted duplicate map keys")
	}
}

func TestUnmarshalRejectsIndefiniteLength(t *testing.T) {
	// Indefinite-length map {"k": "a"} terminated by break.
	data := []byte{0xbf, 0x61, 'k', 0x61, 'a', 0xff}

	var decoded sampleFrame
	if err := Unmarshal(data, &decoded); err == nil {
		t.Fatal("Unmarshal accepted an indefinite-length map")
	}
}

func TestUnmarshalRejectsMalformedIdentifier(t *testing.T) {
	data, err := Marshal(map[string]string{"s": "not-a-peer-id"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded sampleFrame
	if err := Unmarshal(data, &decoded); err == nil {
		t.Fatal("Unmarshal accepted a malformed peer ID")
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(sampleFrame{Kind: "hello", Count: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !bytes.Contains([]byte(notation), []byte(`"hello"`)) {
		t.Errorf("diagnostic notation %q missing field value", notation)
	}
}
