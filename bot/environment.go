// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/switchboard-bot/switchboard/alertstore"
	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/lib/kv"
	"github.com/switchboard-bot/switchboard/lib/ref"
	"github.com/switchboard-bot/switchboard/membership"
	"github.com/switchboard-bot/switchboard/messaging"
)

// Environment is the explicit record of process-wide collaborators
// handed to every starter, module consumer, and worker. All handles
// are built once at startup; there is no global mutable state to
// reach for.
type Environment struct {
	// Session is the authenticated Matrix session.
	Session *messaging.Session
	// Config vends the current configuration snapshot.
	Config *config.Store
	// Alerts is the firing-alerts table shared between the webhook
	// ingress and the alerting module.
	Alerts *alertstore.Store
	// KV is the persistent key-value store (store.db). Modules take
	// namespaced buckets from it.
	KV *kv.Store
	// Members answers roster lookups for the membership ACL
	// predicates.
	Members *membership.Source
	// Scripting is the embedded scripting runtime boundary, nil when
	// no scripting module is configured.
	Scripting ScriptRuntime
	// Logger is the process logger; modules derive their own with
	// logger.With("module", name).
	Logger *slog.Logger
}

// ActionKind enumerates the outbound effects a module or the scripting
// runtime can request.
type ActionKind int

const (
	// ActionSay sends a plain text message.
	ActionSay ActionKind = iota
	// ActionHTML sends a formatted message with a plain fallback.
	ActionHTML
	// ActionNotice sends an m.notice, which other bots ignore.
	ActionNotice
	// ActionKick removes a user from the room.
	ActionKick
	// ActionSetNick changes the bot's display name.
	ActionSetNick
)

// Action is one outbound effect on a room. Which fields are meaningful
// depends on Kind.
type Action struct {
	Kind ActionKind
	Room ref.RoomID
	// Body is the plain text for Say/HTML/Notice, the kick reason for
	// Kick, and the new name for SetNick.
	Body string
	// HTML is the formatted body for ActionHTML.
	HTML string
	// User is the kick target.
	User ref.UserID
}

// ScriptRuntime is the boundary to an embedded scripting runtime: it
// turns chat lines into actions and accepts injected actions from
// other modules. Outputs are normalized to Action so the core applies
// them uniformly.
type ScriptRuntime interface {
	HandleLine(ctx context.Context, event *ConsumerEvent) ([]Action, error)
	InjectAction(ctx context.Context, action Action) error
}

// Apply executes one action through the session.
func (env *Environment) Apply(ctx context.Context, action Action) error {
	switch action.Kind {
	case ActionSay:
		_, err := env.Session.SendMessage(ctx, action.Room, messaging.NewTextMessage(action.Body))
		return err
	case ActionHTML:
		_, err := env.Session.SendMessage(ctx, action.Room, messaging.NewFormattedMessage(action.Body, action.HTML))
		return err
	case ActionNotice:
		_, err := env.Session.SendMessage(ctx, action.Room, messaging.NewNoticeMessage(action.Body))
		return err
	case ActionKick:
		return env.Session.KickUser(ctx, action.Room, action.User, action.Body)
	case ActionSetNick:
		return env.Session.SetDisplayName(ctx, action.Body)
	default:
		return fmt.Errorf("bot: unknown action kind %d", action.Kind)
	}
}
