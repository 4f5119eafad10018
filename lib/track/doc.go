// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package track defines the track data the engine builds playlists from.
//
// A [Record] is one externally supplied track: catalog metadata, audio
// features, and the two evocativeness scores. A [Corpus] is the full
// pool of records plus the duplicate-tag index. A [Point] is the
// immutable per-build view of one record that spatial queries operate
// on, with every feature addressable by [Dimension].
//
// Corpora arrive as opaque blobs. [DecodeCorpus] sniffs the compression
// (gzip, zstd, lz4 frame, or none) from magic bytes and the encoding
// (JSON with optional comments, or CBOR) from the first payload byte.
// [EncodeCorpus] writes the native form used by `eos corpus pack`.
//
// [Tag] computes the duplicate-group tag for a record that arrives
// without one.
package track
