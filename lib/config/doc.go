// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the bot configuration from a single TOML file.
//
// Configuration is loaded from the path given on the command line.
// There are no fallbacks, environment overrides, or automatic
// discovery. This ensures deterministic, auditable configuration with
// no hidden inputs.
//
// A loaded configuration is an immutable Snapshot. The Store holds the
// current snapshot behind an atomic pointer: readers obtain it with a
// single pointer load and never observe a partially applied reload.
// Reload parses the file into a fresh snapshot in isolation and swaps
// it in only on success, so a syntax error leaves the previous
// configuration running.
//
// Per-module configuration lives under the [module] table as opaque
// subtrees. Modules retrieve theirs either raw (RawModuleConfig) or
// decoded into their own typed record (ModuleConfig).
package config
