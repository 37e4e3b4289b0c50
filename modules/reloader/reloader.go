// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package reloader exposes configuration reloads as a chat command.
// The command only queues the request; the reload controller performs
// the actual cycle and reports the outcome back to the origin room.
package reloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/switchboard-bot/switchboard/bot"
	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/lib/ref"
)

// Config is the [module.reloader] table.
type Config struct {
	// Keywords trigger the reload; defaults to ".reload".
	Keywords []string `toml:"keywords"`
	// Admins are the users allowed to reload.
	Admins []string `toml:"admins"`
}

// Starter builds the reloader module. The request function is late
// bound because the controller is constructed after the first registry
// build.
func Starter(request func(room ref.RoomID) bool) bot.NamedStarter {
	return bot.NamedStarter{Name: "reloader", Start: func(env *bot.Environment) ([]*bot.Spec, error) {
		moduleConfig, err := config.ModuleConfig[Config](env.Config.Snapshot(), "reloader")
		if err != nil {
			var missing *config.NoModuleConfigError
			if errors.As(err, &missing) {
				return nil, nil
			}
			return nil, err
		}

		keywords := moduleConfig.Keywords
		if len(keywords) == 0 {
			keywords = []string{".reload"}
		}
		admins := make([]ref.UserID, 0, len(moduleConfig.Admins))
		for _, raw := range moduleConfig.Admins {
			admin, err := ref.ParseUserID(raw)
			if err != nil {
				return nil, fmt.Errorf("reloader: admins: %w", err)
			}
			admins = append(admins, admin)
		}

		return []*bot.Spec{{
			Name:     "reloader",
			Help:     "reload the configuration",
			Keywords: keywords,
			ACL:      []bot.Predicate{bot.SpecificUsers{Users: admins}},
			Handle: func(ctx context.Context, event *bot.ConsumerEvent) error {
				if request(event.Room) {
					// The controller reports the outcome itself.
					return nil
				}
				return env.Apply(ctx, bot.Action{
					Kind: bot.ActionNotice,
					Room: event.Room,
					Body: "reload already queued",
				})
			},
		}}, nil
	}}
}
