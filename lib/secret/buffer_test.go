// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestNewZeroFilled(t *testing.T) {
	buffer, err := New(32)
	if err != nil {
		t.Fatalf("New(32): %v", err)
	}
	defer buffer.Close()

	if buffer.Len() != 32 {
		t.Errorf("Len = %d, want 32", buffer.Len())
	}
	for index, value := range buffer.Bytes() {
		if value != 0 {
			t.Fatalf("byte %d = %d, want 0", index, value)
		}
	}
}

func TestNewRejectsNonPositive(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := New(size); err == nil {
			t.Errorf("New(%d) succeeded", size)
		}
	}
}

func TestNewRandomDistinct(t *testing.T) {
	first, err := NewRandom(32)
	if err != nil {
		t.Fatalf("NewRandom: %v", err)
	}
	defer first.Close()
	second, err := NewRandom(32)
	if err != nil {
		t.Fatalf("NewRandom: %v", err)
	}
	defer second.Close()

	if bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("two random secrets are identical")
	}
	if first.Equal(second.Bytes()) {
		t.Error("Equal matched a different secret")
	}
	if !first.Equal(first.Clone()) {
		t.Error("Equal rejected a copy of the secret")
	}
}

func TestEqualLengthMismatch(t *testing.T) {
	buffer, err := NewFromBytes([]byte("build-secret"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if buffer.Equal([]byte("build-secre")) {
		t.Error("Equal matched a truncated candidate")
	}
	if buffer.Equal(nil) {
		t.Error("Equal matched nil")
	}
}

func TestNewFromBytesZeroesSource(t *testing.T) {
	source := []byte("build-secret")
	buffer, err := NewFromBytes(source)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()

	if string(buffer.Bytes()) != "build-secret" {
		t.Errorf("buffer holds %q", buffer.Bytes())
	}
	for index, value := range source {
		if value != 0 {
			t.Fatalf("source byte %d not zeroed", index)
		}
	}
}

func TestFingerprint(t *testing.T) {
	buffer, err := NewFromBytes([]byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02})
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer buffer.Close()
	if got := buffer.Fingerprint(); got != "deadbeef" {
		t.Errorf("Fingerprint = %q, want deadbeef", got)
	}
}

func TestCloseIdempotentAndPanics(t *testing.T) {
	buffer, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("Bytes after Close did not panic")
		}
	}()
	buffer.Bytes()
}
