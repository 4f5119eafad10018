// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Eos packages.
//
// [RequireReceive], [RequireClosed], and [RequireNoReceive] wrap the
// select-with-timeout pattern so individual tests never call
// time.After. They are the only place in the test suite where real
// wall-clock timeouts appear; everything else runs on lib/clock.Fake.
//
// [WriteFile] drops a fixture (config file, corpus blob, builder
// script) into a per-test temporary directory.
//
// All helpers call t.Fatalf on failure.
package testutil
