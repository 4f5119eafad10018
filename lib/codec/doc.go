// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the engine's standard CBOR encoding configuration.
//
// Every byte that crosses an execution-context boundary is CBOR: channel
// frames between the host and a sandbox worker, the application bodies
// those frames carry, and native track corpus blobs. JSON appears only at
// the edges (legacy corpus files, CLI --json output).
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical message always produces identical bytes. The decoder is
// configured for hostile input: the host decodes frames written by a
// process running untrusted code, so nesting depth and container sizes
// are bounded and duplicate map keys are rejected.
//
// For buffer-oriented operations (corpus blobs, request bodies):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (a worker's stdin/stdout):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
//   - `cbor` tag: the type only ever travels as CBOR (channel envelopes,
//     ipc bodies).
//   - `json` tag: the type is also read from or written as JSON (track
//     records, CLI output). fxamacker/cbor falls back to `json` tags when
//     `cbor` tags are absent, so one tag controls both formats.
//
// Never put both tags on the same field.
package codec
