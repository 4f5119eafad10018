// Copyright 2026 The Eos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the eos engine.
//
// Configuration is loaded from a single file named by either the
// EOS_CONFIG environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no discovery and no search path. Commands that
// run without any config file use [Default].
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production is stricter by default: the
// worker must run under bubblewrap and scripts get a step budget.
//
// Path fields expand ${HOME}, ${EOS_ROOT}, and ${VAR:-default} after
// loading. No other environment variables override config values.
//
// Durations are YAML strings ("5s", "250ms") parsed with
// time.ParseDuration by the typed accessors on [EngineConfig].
package config
