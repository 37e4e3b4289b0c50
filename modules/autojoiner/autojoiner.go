// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package autojoiner accepts room invites from trusted homeservers.
// Joins are retried with exponential backoff, since an invite can
// arrive before the inviting server has finished propagating the
// room.
package autojoiner

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/switchboard-bot/switchboard/bot"
	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/lib/ref"
)

const (
	initialBackoff = 2 * time.Second
	// giveUpAfter bounds a retry series: once the next delay would
	// exceed it, the invite is abandoned.
	giveUpAfter = 3600 * time.Second
)

// Config is the [module.autojoiner] table.
type Config struct {
	// Homeservers lists server names whose invites are auto-accepted.
	Homeservers []string `toml:"homeservers"`
}

// Starter builds the autojoiner. It contributes no message handler,
// only an invite hook on the sync loop.
func Starter() bot.NamedStarter {
	return bot.NamedStarter{Name: "autojoiner", Start: func(env *bot.Environment) ([]*bot.Spec, error) {
		moduleConfig, err := config.ModuleConfig[Config](env.Config.Snapshot(), "autojoiner")
		if err != nil {
			var missing *config.NoModuleConfigError
			if errors.As(err, &missing) {
				return nil, nil
			}
			return nil, err
		}

		joiner := &autojoiner{env: env, homeservers: moduleConfig.Homeservers}
		return []*bot.Spec{{
			Name:   "autojoiner",
			Invite: joiner.onInvite,
		}}, nil
	}}
}

type autojoiner struct {
	env         *bot.Environment
	homeservers []string
}

func (a *autojoiner) onInvite(ctx context.Context, room ref.RoomID, sender ref.UserID) {
	if !slices.Contains(a.homeservers, sender.Server()) {
		a.env.Logger.Info("ignoring invite from untrusted homeserver",
			"room", room, "sender", sender)
		return
	}

	a.env.Logger.Info("accepting invite", "room", room, "sender", sender)
	go a.joinWithRetry(ctx, room)
}

// joinWithRetry attempts the join, doubling the delay after each
// failure until the next delay would pass the give-up bound.
func (a *autojoiner) joinWithRetry(ctx context.Context, room ref.RoomID) {
	delay := initialBackoff
	for {
		_, err := a.env.Session.JoinRoom(ctx, room)
		if err == nil {
			a.env.Logger.Info("joined room", "room", room)
			return
		}
		if delay > giveUpAfter {
			a.env.Logger.Error("giving up on invite", "room", room, "error", err)
			return
		}

		a.env.Logger.Warn("join failed, will retry", "room", room, "retry_in", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
	}
}
