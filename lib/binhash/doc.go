// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes BLAKE3 content digests for scripts and corpus
// blobs.
//
// A build never records the script text itself in logs or result
// metadata; it records [Script] instead, so two runs of the same builder
// can be correlated without shipping user code around. `eos corpus
// inspect` prints [HashFile] for the blob it decoded.
package binhash
