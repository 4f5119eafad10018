// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

type sampleEnvelope struct {
	Type    string `cbor:"type"`
	Version int    `cbor:"version,omitempty"`
	Reply   uint64 `cbor:"reply,omitempty"`
}

type sampleRecord struct {
	ID    string  `json:"id"`
	Tempo float64 `json:"tempo"`
}

func TestMarshalDeterministic(t *testing.T) {
	envelope := sampleEnvelope{Type: "knock", Version: 1, Reply: 7}

	first, err := Marshal(envelope)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(envelope)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	envelopes := []sampleEnvelope{
		{Type: "knock", Version: 1, Reply: 1},
		{Type: "ack", Version: 1, Reply: 2},
		{Type: "complete", Reply: 3},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, envelope := range envelopes {
		if err := encoder.Encode(envelope); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range envelopes {
		var got sampleEnvelope
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode envelope %d: %v", i, err)
		}
		if got != want {
			t.Errorf("envelope %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestJSONTagFallback(t *testing.T) {
	original := sampleRecord{ID: "4uLU6hMCjMI75M1A2tKUQC", Tempo: 124.5}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("json-tag roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestUnmarshalRejectsDuplicateKeys(t *testing.T) {
	// {"type": "knock", "type": "ack"}
	data := []byte{0xa2, 0x64, 't', 'y', 'p', 'e', 0x65, 'k', 'n', 'o', 'c', 'k',
		0x64, 't', 'y', 'p', 'e', 0x63, 'a', 'c', 'k'}
	var envelope sampleEnvelope
	if err := Unmarshal(data, &envelope); err == nil {
		t.Fatalf("Unmarshal accepted duplicate map keys, got %+v", envelope)
	}
}

func TestUnmarshalRejectsDeepNesting(t *testing.T) {
	// 40 nested single-element arrays exceed maxNestedLevels.
	var data []byte
	for range 40 {
		data = append(data, 0x81)
	}
	data = append(data, 0x01)
	var value any
	if err := Unmarshal(data, &value); err == nil {
		t.Fatal("Unmarshal accepted nesting beyond the configured limit")
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var envelope sampleEnvelope
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &envelope); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestAnyDecodesToStringMap(t *testing.T) {
	data, err := Marshal(map[string]any{"type": "load-tracks"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	if asMap["type"] != "load-tracks" {
		t.Errorf("type = %v, want load-tracks", asMap["type"])
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(sampleEnvelope{Type: "turn"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"turn"`) {
		t.Errorf("notation %q does not contain \"turn\"", notation)
	}
}
