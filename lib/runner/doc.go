// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner executes one untrusted playlist script against the
// loaded track corpus.
//
// A build moves through LoadingTracks, Pruning, BuildingTree,
// SelectingFirstTrack and SelectingNextTrack before ending in Done or
// Failed. The script drives selection through its hooks (see
// lib/capability); the runner owns the spatial index and the seen-tag
// set, and it re-resolves every track id the script hands back against
// the authoritative corpus before the track enters the playlist.
//
// Failures never escape as Go errors: Build and Prune always return an
// ipc.Result tagged with the request's secret, carrying either the
// payload or an ipc.BuildError. Terminate cancels the running build;
// its result reports ipc.ErrCancelled.
package runner
