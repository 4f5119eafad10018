// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds per-build secrets in memory the garbage collector
// never sees.
//
// The orchestrator tags every build with a fresh random secret and
// accepts only responses that echo it back. The secret therefore lives
// in a [Buffer]: an anonymous mmap region outside the Go heap, locked
// against swap and excluded from core dumps, zeroed and unmapped on
// Close. [NewRandom] fills a new buffer from crypto/rand and
// [Buffer.Equal] compares in constant time.
package secret
