// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package bot is the module dispatch and lifecycle core.
//
// It owns the authenticated Matrix session and its sync loop
// (SessionManager), the registry of feature modules and background
// workers (Registry), the per-message routing decision (Dispatcher),
// the access-control predicates (Predicate and friends), and hot
// configuration reload (ReloadController).
//
// Feature modules live in the modules tree and plug in through starter
// functions; the core routes events to them and knows nothing about
// their business logic.
package bot
