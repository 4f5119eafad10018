// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The engine reads time in two places: the handshake timeout in
// lib/channel, which lib/orchestrator applies to every worker it
// starts, and progress throttling in lib/runner. Both take a Clock so
// that tests can drive those paths deterministically with Fake instead
// of sleeping.
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go initiator.Knock(ctx, links...)
//	fake.WaitForTimers(1)
//	fake.Advance(5 * time.Second) // handshake times out
package clock
