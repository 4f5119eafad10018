// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"bytes"
	"testing"

	"github.com/phosphorescence/eos/lib/testutil"
)

func TestScriptMatchesHashFile(t *testing.T) {
	source := []byte("def get_first_track(ctx):\n    return random_track()\n")
	path := testutil.WriteFile(t, "builder.star", source)

	fromFile, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if fromFile != Script(source) {
		t.Errorf("HashFile = %s, Script = %s", fromFile, Script(source))
	}
}

func TestScriptDistinguishesContent(t *testing.T) {
	if Script([]byte("a")) == Script([]byte("b")) {
		t.Error("different scripts produced the same digest")
	}
}

func TestHashFileLarge(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 3<<20)
	path := testutil.WriteFile(t, "corpus.cbor", data)
	digest, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if digest != Script(data) {
		t.Error("streaming digest differs from one-shot digest")
	}
}

func TestHashFileNonexistent(t *testing.T) {
	if _, err := HashFile("/nonexistent/corpus.cbor"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseDigest(t *testing.T) {
	original := Script([]byte("eos"))
	parsed, err := ParseDigest(original.String())
	if err != nil {
		t.Fatalf("ParseDigest: %v", err)
	}
	if parsed != original {
		t.Errorf("ParseDigest(%s) = %s", original, parsed)
	}
	if len(original.Short()) != 12 {
		t.Errorf("Short() = %q, want 12 characters", original.Short())
	}

	for _, input := range []string{"zz", "abcd", ""} {
		if _, err := ParseDigest(input); err == nil {
			t.Errorf("ParseDigest(%q) succeeded", input)
		}
	}
}
