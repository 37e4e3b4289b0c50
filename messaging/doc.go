// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is a thin Matrix client-server API client: login,
// /sync long-polling, room sends (plain, notice, and HTML rendered
// from markdown), state event reads, alias resolution, and membership
// operations (join, invite, kick, leave).
//
// The package covers exactly the endpoints the bot uses. It is not a
// general Matrix SDK: no end-to-end encryption, no media, no
// application-service support. Requests go through one doRequest
// helper that maps non-2xx responses to *MatrixError, so callers can
// branch on Matrix error codes with errors.As or IsMatrixError.
package messaging
