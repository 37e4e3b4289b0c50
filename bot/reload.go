// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/lib/ref"
)

// InstallDispatcher builds a dispatcher over the registry and
// installs it, together with the registry's invite handlers, as the
// session manager's event handler.
func InstallDispatcher(sessions *SessionManager, env *Environment, registry *Registry, snapshot *config.Snapshot) {
	identity := NewIdentity(env.Session, env.Members)
	dispatcher := NewDispatcher(env.Session.UserID(), snapshot, registry, identity, env.Session, env)

	invites := registry.InviteHandlers()
	sessions.SetHandler(&EventHandler{
		Message: dispatcher.Dispatch,
		Invite: func(ctx context.Context, room ref.RoomID, sender ref.UserID) {
			for _, handler := range invites {
				handler(ctx, room, sender)
			}
		},
	})
}

// ReloadController serializes hot configuration reloads. Requests
// arrive over a single-slot channel (typically pushed by the reloader
// module); each reload re-parses the configuration, tears down the
// registry, and rebuilds it, reporting the outcome to the requesting
// room.
type ReloadController struct {
	requests chan ref.RoomID

	// mu is the reload lock: it guards the registry handle and the
	// session manager's handler registration.
	mu       sync.Mutex
	registry *Registry

	sessions *SessionManager
	env      *Environment
	starters Starters
	logger   *slog.Logger

	// exit terminates the process on fatal reload failure. Tests
	// replace it.
	exit func(code int)
}

// NewReloadController creates a controller over the initially built
// registry.
func NewReloadController(sessions *SessionManager, env *Environment, starters Starters, registry *Registry) *ReloadController {
	return &ReloadController{
		requests: make(chan ref.RoomID, 1),
		registry: registry,
		sessions: sessions,
		env:      env,
		starters: starters,
		logger:   env.Logger,
		exit:     os.Exit,
	}
}

// Request queues a reload, naming the room the outcome is reported
// to. Returns false when a reload is already queued.
func (r *ReloadController) Request(room ref.RoomID) bool {
	select {
	case r.requests <- room:
		return true
	default:
		return false
	}
}

// Run serves reload requests until the context is cancelled, then
// closes the current registry.
func (r *ReloadController) Run(ctx context.Context) {
	for {
		select {
		case room := <-r.requests:
			r.reload(ctx, room)
		case <-ctx.Done():
			r.mu.Lock()
			r.sessions.SetHandler(nil)
			r.registry.Close()
			r.mu.Unlock()
			return
		}
	}
}

// reload performs one reload cycle under the reload lock.
//
// A configuration error leaves the previous state fully intact. A
// core-module starter failure is fatal: the old registry is already
// gone, so the process reports the failure and exits for the service
// supervisor to restart it.
func (r *ReloadController) reload(ctx context.Context, room ref.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("reload requested", "reply_room", room)

	snapshot, err := r.env.Config.Reload()
	if err != nil {
		var parseErr *config.ParseError
		if errors.As(err, &parseErr) {
			r.logger.Error("reload aborted on configuration parse error", "error", err)
			r.reply(ctx, room, "configuration parsing error, check logs")
		} else {
			r.logger.Error("reload aborted, cannot read configuration", "error", err)
			r.reply(ctx, room, "configuration reload failed, check logs")
		}
		return
	}

	if err := r.env.Members.Reload(); err != nil {
		// The previous roster keeps serving; not worth failing the
		// whole reload over.
		r.logger.Error("membership roster reload failed, keeping previous roster", "error", err)
	}

	r.sessions.SetHandler(nil)
	r.registry.Close()

	registry, err := BuildRegistry(r.env, r.starters, snapshot.CoreModules)
	if err != nil {
		r.logger.Error("fatal starter failure at reload, exiting", "error", err)
		r.reply(ctx, room, fmt.Sprintf("fatal failure: %v", err))
		r.exit(1)
		return
	}

	r.registry = registry
	InstallDispatcher(r.sessions, r.env, registry, snapshot)

	r.logger.Info("configuration reloaded")
	r.reply(ctx, room, "configuration reloaded")
}

// Registry returns the currently installed registry. Modules that
// inspect the live module set (help) call this through a late-bound
// closure.
func (r *ReloadController) Registry() *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry
}

func (r *ReloadController) reply(ctx context.Context, room ref.RoomID, message string) {
	if err := r.sessions.Send(ctx, room, message); err != nil {
		r.logger.Error("failed to send reload status", "room", room, "error", err)
	}
}
