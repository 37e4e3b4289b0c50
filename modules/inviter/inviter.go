// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package inviter handles membership requests: users ask to be
// invited in a dedicated request room, approvers confirm, and the bot
// sends the invites. Each user gets one pending request per 7-day
// cooldown window.
package inviter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/switchboard-bot/switchboard/bot"
	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/lib/kv"
	"github.com/switchboard-bot/switchboard/lib/ref"
)

// cooldown is how long a user waits between invite requests.
const cooldown = 7 * 24 * time.Hour

// kvNamespace scopes the inviter's keys in store.db.
const kvNamespace = "inviter"

// Config is the [module.inviter] table.
type Config struct {
	// Requests is the room (alias or ID) where invite requests are
	// accepted.
	Requests string `toml:"requests"`
	// Approvers may confirm pending requests.
	Approvers []string `toml:"approvers"`
	// InviteTo lists the rooms an approved user is invited to.
	InviteTo []string `toml:"invite_to"`
	// HomeserversBlanketAllow lists servers whose users skip
	// approval.
	HomeserversBlanketAllow []string `toml:"homeservers_blanket_allow"`
}

// cooldownRecord is the per-user next-allowed-request timestamp.
type cooldownRecord struct {
	NextAllowed time.Time `cbor:"next_allowed"`
}

// pendingRecord marks a request awaiting approval.
type pendingRecord struct {
	RequestedAt time.Time `cbor:"requested_at"`
}

// Starter builds the inviter module: the request keyword, gated to
// the request room, and the approval keyword, gated to approvers.
func Starter() bot.NamedStarter {
	return bot.NamedStarter{Name: "inviter", Start: func(env *bot.Environment) ([]*bot.Spec, error) {
		moduleConfig, err := config.ModuleConfig[Config](env.Config.Snapshot(), "inviter")
		if err != nil {
			var missing *config.NoModuleConfigError
			if errors.As(err, &missing) {
				return nil, nil
			}
			return nil, err
		}

		approvers := make([]ref.UserID, 0, len(moduleConfig.Approvers))
		for _, raw := range moduleConfig.Approvers {
			approver, err := ref.ParseUserID(raw)
			if err != nil {
				return nil, fmt.Errorf("inviter: approvers: %w", err)
			}
			approvers = append(approvers, approver)
		}

		inviter := &inviter{
			env:    env,
			config: moduleConfig,
			bucket: env.KV.Namespace(kvNamespace),
		}

		return []*bot.Spec{
			{
				Name:        "inviter",
				Help:        "request an invite to the community rooms",
				Keywords:    []string{".invite"},
				ACL:         []bot.Predicate{bot.RoomList{Rooms: []string{moduleConfig.Requests}}},
				ErrorPrefix: "invite request failed",
				Handle:      inviter.handleRequest,
			},
			{
				Name:        "inviter_approve",
				Help:        "approve a pending invite request",
				Keywords:    []string{".approve"},
				ACL:         []bot.Predicate{bot.SpecificUsers{Users: approvers}},
				ErrorPrefix: "approval failed",
				Handle:      inviter.handleApprove,
			},
		}, nil
	}}
}

type inviter struct {
	env    *bot.Environment
	config Config
	bucket kv.Bucket
}

// handleRequest arms a pending approval for the sender, or ignores
// the request silently while the sender's cooldown runs.
func (i *inviter) handleRequest(ctx context.Context, event *bot.ConsumerEvent) error {
	now := time.Now()

	var record cooldownRecord
	if _, err := i.bucket.Get(ctx, cooldownKey(event.Sender), &record); err != nil {
		return err
	}
	// A missing record decodes as the zero time, the epoch sentinel:
	// every first request passes.
	if now.Before(record.NextAllowed) {
		i.env.Logger.Info("invite request inside cooldown, ignoring",
			"sender", event.Sender, "next_allowed", record.NextAllowed)
		return nil
	}

	if err := i.bucket.Put(ctx, cooldownKey(event.Sender), cooldownRecord{NextAllowed: now.Add(cooldown)}); err != nil {
		return err
	}

	// Trusted homeservers skip the approval queue entirely.
	if slices.Contains(i.config.HomeserversBlanketAllow, event.Sender.Server()) {
		i.env.Logger.Info("blanket-allowed invite request", "sender", event.Sender)
		if err := i.invite(ctx, event.Sender); err != nil {
			return err
		}
		return i.env.Apply(ctx, bot.Action{
			Kind: bot.ActionNotice,
			Room: event.Room,
			Body: fmt.Sprintf("%s: invites sent, check your client", event.Sender),
		})
	}

	if err := i.bucket.Put(ctx, pendingKey(event.Sender), pendingRecord{RequestedAt: now}); err != nil {
		return err
	}
	i.env.Logger.Info("invite request armed for approval", "sender", event.Sender)

	return i.env.Apply(ctx, bot.Action{
		Kind: bot.ActionNotice,
		Room: event.Room,
		Body: fmt.Sprintf("%s: request noted, an approver will confirm it", event.Sender),
	})
}

// handleApprove confirms a pending request: ".approve @user:server".
func (i *inviter) handleApprove(ctx context.Context, event *bot.ConsumerEvent) error {
	target, err := ref.ParseUserID(strings.TrimSpace(event.Args))
	if err != nil {
		return fmt.Errorf("usage: .approve @user:server (%w)", err)
	}

	var pending pendingRecord
	found, err := i.bucket.Get(ctx, pendingKey(target), &pending)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no pending request for %s", target)
	}

	if err := i.invite(ctx, target); err != nil {
		return err
	}
	if err := i.bucket.Delete(ctx, pendingKey(target)); err != nil {
		return err
	}
	i.env.Logger.Info("invite request approved",
		"target", target, "approver", event.Sender)

	return i.env.Apply(ctx, bot.Action{
		Kind: bot.ActionNotice,
		Room: event.Room,
		Body: fmt.Sprintf("invited %s", target),
	})
}

// invite sends the target an invite to every configured room.
func (i *inviter) invite(ctx context.Context, target ref.UserID) error {
	for _, raw := range i.config.InviteTo {
		roomID, err := i.resolveRoom(ctx, raw)
		if err != nil {
			return err
		}
		if err := i.env.Session.InviteUser(ctx, roomID, target); err != nil {
			return err
		}
	}
	return nil
}

func (i *inviter) resolveRoom(ctx context.Context, raw string) (ref.RoomID, error) {
	if roomID, err := ref.ParseRoomID(raw); err == nil {
		return roomID, nil
	}
	alias, err := ref.ParseRoomAlias(raw)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("inviter: room %q is neither ID nor alias: %w", raw, err)
	}
	return i.env.Session.ResolveAlias(ctx, alias)
}

func cooldownKey(user ref.UserID) string { return "cooldown/" + user.String() }
func pendingKey(user ref.UserID) string  { return "pending/" + user.String() }
