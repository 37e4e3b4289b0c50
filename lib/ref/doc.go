// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated Matrix identifier value types.
//
// Raw identifier strings arrive from configuration files, /sync
// responses, and webhook payloads. They are parsed into these types at
// the boundary so that the rest of the bot never handles an unvalidated
// user ID, room ID, or room alias. All types are immutable value types;
// the zero value is never valid and IsZero reports it.
package ref
