// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"

	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/lib/ref"
	"github.com/switchboard-bot/switchboard/messaging"
)

// Consumption is the priority with which a module claims an event.
// The order is total and ascending: a higher level displaces modules
// selected at a lower one.
type Consumption int

const (
	// Reject declines the event.
	Reject Consumption = iota
	// Inclusive is the default fan-out: every Inclusive module gets
	// the event unless something stronger claims it.
	Inclusive
	// Passthrough observes events not claimed exclusively; it
	// displaces Inclusive modules but coexists with other
	// Passthroughs.
	Passthrough
	// Exclusive claims the event alone. Keyword matches are always
	// Exclusive.
	Exclusive
)

func (c Consumption) String() string {
	switch c {
	case Reject:
		return "reject"
	case Inclusive:
		return "inclusive"
	case Passthrough:
		return "passthrough"
	case Exclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// ConsumerEvent is the record delivered over a module's inbound
// channel. It is allocated by the dispatcher and owned by the
// consuming module for one message.
type ConsumerEvent struct {
	// Event is the raw inbound message.
	Event *messaging.Event
	// Sender is the message author.
	Sender ref.UserID
	// Room is where the message arrived, and where replies go.
	Room ref.RoomID
	// Keyword is the resolved command keyword; empty when no
	// configured prefix matched.
	Keyword string
	// Args is the remainder of the message after the keyword.
	Args string
	// Level is the sender's resolved permission level in Room (0 when
	// resolution failed).
	Level int
	// Env gives the module its process-wide collaborators.
	Env *Environment
}

// Body returns the plain-text body of the underlying message.
func (e *ConsumerEvent) Body() string {
	_, body := e.Event.MessageBody()
	return body
}

// Handler processes one ConsumerEvent. A returned error is logged and,
// when the module declares an error prefix, surfaced to the
// originating room as "<prefix>: <error>".
type Handler func(ctx context.Context, event *ConsumerEvent) error

// Decider is a catch-all trigger: it inspects a message and reports
// how strongly the module claims it. Deciders must not have side
// effects; they run for every message during classification.
type Decider func(ctx context.Context, level int, sender ref.UserID, room ref.RoomID, body string, snapshot *config.Snapshot) (Consumption, error)

// InviteHandler is called for each room invite observed by the sync
// loop.
type InviteHandler func(ctx context.Context, room ref.RoomID, sender ref.UserID)

// Spec describes one module to the registry: identity, trigger,
// access rules, and handlers. Starters return specs; the registry
// wires each one with a capacity-1 inbound channel and a consumer
// goroutine.
//
// Exactly one of Keywords and Decide must be set when Handle is set.
type Spec struct {
	// Name is the stable module name, used in metrics and logs.
	Name string
	// Help is the one-line description shown by the help module.
	Help string
	// ACL is the ordered predicate list; all must pass (AND,
	// short-circuit). Empty means open to everyone.
	ACL []Predicate
	// Keywords is the keyword trigger: a message whose resolved
	// keyword is in this set claims the module exclusively.
	Keywords []string
	// Decide is the catch-all trigger, mutually exclusive with
	// Keywords.
	Decide Decider
	// ErrorPrefix, when non-empty, prefixes handler errors sent back
	// to the room.
	ErrorPrefix string
	// Handle consumes events. A spec without a handler contributes
	// only its other hooks (Invite, Help listing).
	Handle Handler
	// Invite, when set, receives room invites from the sync loop.
	Invite InviteHandler

	// events is the inbound channel, created by the registry. A nil
	// channel marks a failed or handlerless module; the dispatcher
	// skips it.
	events chan *ConsumerEvent
}

// matchesKeyword reports whether the resolved keyword triggers this
// module.
func (m *Spec) matchesKeyword(keyword string) bool {
	if keyword == "" {
		return false
	}
	for _, candidate := range m.Keywords {
		if candidate == keyword {
			return true
		}
	}
	return false
}

// deliver hands the event to the module without blocking. Returns
// false when the module has no channel or its single slot is taken.
func (m *Spec) deliver(event *ConsumerEvent) bool {
	if m.events == nil {
		return false
	}
	select {
	case m.events <- event:
		return true
	default:
		return false
	}
}
