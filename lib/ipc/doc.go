// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded message bodies exchanged between
// the host orchestrator and a sandbox worker over a channel. Both
// lib/orchestrator and lib/worker import this package so the wire types
// are defined once rather than mirrored.
package ipc
