// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/lib/ref"
	"github.com/switchboard-bot/switchboard/messaging"
)

// refusalMessage is sent when a keyword command fails its ACL.
const refusalMessage = "I'm sorry Dave, I'm afraid I can't do that"

// messageSender is the slice of the session the dispatcher needs to
// send refusals. *messaging.Session implements it.
type messageSender interface {
	SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error)
}

// Dispatcher turns each inbound text message into a routing decision
// across the registry's modules. Dispatchers are immutable: a reload
// builds a new one over the new registry and snapshot and swaps it
// into the sync loop, so no message ever sees a mixture of old and new
// configuration.
type Dispatcher struct {
	self        ref.UserID
	snapshot    *config.Snapshot
	modules     []*Spec
	passthrough []*Spec
	identity    *Identity
	sender      messageSender
	env         *Environment
	logger      *slog.Logger
}

// NewDispatcher builds a dispatcher over the registry's current
// module set. self is the bot's own user ID, whose messages are
// ignored; snapshot is the configuration the registry was built
// against, frozen for this dispatcher's lifetime (prefixes included).
func NewDispatcher(self ref.UserID, snapshot *config.Snapshot, registry *Registry, identity *Identity, sender messageSender, env *Environment) *Dispatcher {
	return &Dispatcher{
		self:        self,
		snapshot:    snapshot,
		modules:     registry.Modules(),
		passthrough: registry.Passthrough(),
		identity:    identity,
		sender:      sender,
		env:         env,
		logger:      env.Logger,
	}
}

// Dispatch routes one inbound message. It never blocks on a module
// channel and never returns an error: every per-module failure is
// logged and skips that module only.
func (d *Dispatcher) Dispatch(ctx context.Context, room ref.RoomID, event *messaging.Event) {
	if event.Sender == d.self {
		return
	}
	msgtype, body := event.MessageBody()
	if msgtype != "m.text" {
		return
	}

	level, err := d.identity.PermissionLevel(ctx, room, event.Sender)
	if err != nil {
		d.logger.Warn("permission level resolution failed, defaulting to 0",
			"room", room, "sender", event.Sender, "error", err)
		level = 0
	}

	keyword, args := parseCommand(d.snapshot.Prefixes, body)

	consumerEvent := &ConsumerEvent{
		Event:   event,
		Sender:  event.Sender,
		Room:    room,
		Keyword: keyword,
		Args:    args,
		Level:   level,
		Env:     d.env,
	}

	// Classification and selection over the main module set.
	consumption := Inclusive
	var selected []*Spec
	for _, module := range d.modules {
		if module.events == nil {
			continue
		}

		var claim Consumption
		switch {
		case module.Decide != nil:
			claim, err = module.Decide(ctx, level, event.Sender, room, body, d.snapshot)
			if err != nil {
				d.logger.Error("decider failed", "module", module.Name, "error", err)
				claim = Reject
			}
		case module.matchesKeyword(keyword):
			claim = Exclusive
		default:
			claim = Reject
		}

		switch claim {
		case Exclusive:
			selected = append(selected[:0], module)
			consumption = Exclusive
		case Passthrough:
			if consumption < Passthrough {
				selected = selected[:0]
			}
			selected = append(selected, module)
			consumption = Passthrough
		case Inclusive:
			if consumption <= Inclusive {
				selected = append(selected, module)
			}
		}
		if consumption == Exclusive {
			break
		}
	}

	// Keyword commands that fail their ACL get one refusal; catch-all
	// failures stay silent.
	d.deliverAll(ctx, selected, consumerEvent, consumption == Exclusive)

	if consumption == Exclusive {
		return
	}

	// Passthrough phase: catch-alls that observe whatever no module
	// claimed exclusively.
	var observers []*Spec
	for _, module := range d.passthrough {
		if module.events == nil {
			continue
		}
		claim, err := module.Decide(ctx, level, event.Sender, room, body, d.snapshot)
		if err != nil {
			d.logger.Error("passthrough decider failed", "module", module.Name, "error", err)
			continue
		}
		if claim != Reject {
			observers = append(observers, module)
		}
	}
	d.deliverAll(ctx, observers, consumerEvent, false)
}

// deliverAll gates each module on its ACL and hands over the event
// without blocking. With refuse set, the first ACL rejection sends a
// single refusal message to the room.
func (d *Dispatcher) deliverAll(ctx context.Context, modules []*Spec, event *ConsumerEvent, refuse bool) {
	refused := false
	for _, module := range modules {
		allowed, err := CheckACL(ctx, d.identity, module.ACL, event.Sender, event.Room, event.Level)
		if err != nil {
			d.logger.Error("acl evaluation failed", "module", module.Name, "error", err)
			continue
		}
		if !allowed {
			d.logger.Info("access denied",
				"module", module.Name, "sender", event.Sender, "room", event.Room)
			if refuse && !refused {
				refused = true
				if _, err := d.sender.SendMessage(ctx, event.Room, messaging.NewTextMessage(refusalMessage)); err != nil {
					d.logger.Error("failed to send refusal", "room", event.Room, "error", err)
				}
			}
			continue
		}

		if !module.deliver(event) {
			// Capacity-1 channel full: the module is still busy with
			// the previous event. Drop rather than stall the sync loop.
			d.logger.Warn("module channel full, dropping event",
				"module", module.Name, "room", event.Room)
			continue
		}
		moduleEventCounts.WithLabelValues(module.Name).Inc()
	}
}

// parseCommand applies the ordered prefix list to the message body.
//
// A single-character prefix sigilizes the first token: ".demo hi"
// resolves keyword ".demo", args "hi". A longer prefix is a whole-word
// preamble consuming the first token: "hey bot demo hi" with prefix
// "hey bot" resolves keyword "demo", args "hi". The first matching
// prefix wins; no match means no keyword.
func parseCommand(prefixes []string, body string) (keyword, args string) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", ""
	}

	for _, prefix := range prefixes {
		if len(prefix) == 1 {
			first, rest := cutToken(trimmed)
			if strings.HasPrefix(first, prefix) && len(first) > 1 {
				return first, rest
			}
			continue
		}

		if trimmed == prefix {
			return "", ""
		}
		if strings.HasPrefix(trimmed, prefix+" ") {
			remainder := strings.TrimSpace(trimmed[len(prefix):])
			first, rest := cutToken(remainder)
			return first, rest
		}
	}
	return "", ""
}

// cutToken splits off the first whitespace-delimited token. Any
// whitespace terminates the token, not just the space character.
func cutToken(text string) (first, rest string) {
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		return text[:i], strings.TrimSpace(text[i:])
	}
	return text, ""
}
