// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package fees posts a recurring membership-fee reminder on a cron
// schedule.
package fees

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/switchboard-bot/switchboard/bot"
	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/lib/cron"
	"github.com/switchboard-bot/switchboard/lib/ref"
)

// Config is the [module.fees] table.
type Config struct {
	// Schedule is a 5-field cron expression, evaluated in UTC.
	Schedule string `toml:"schedule"`
	// Room receives the reminder.
	Room string `toml:"room"`
	// Message is the reminder text, rendered as markdown.
	Message string `toml:"message"`
}

// WorkerStarter builds the reminder worker. The schedule is parsed in
// the starter so a bad expression fails the reload instead of a tick.
func WorkerStarter() bot.NamedWorkerStarter {
	return bot.NamedWorkerStarter{Name: "fees", Start: func(env *bot.Environment) ([]bot.Worker, error) {
		moduleConfig, err := config.ModuleConfig[Config](env.Config.Snapshot(), "fees")
		if err != nil {
			var missing *config.NoModuleConfigError
			if errors.As(err, &missing) {
				return nil, nil
			}
			return nil, err
		}

		schedule, err := cron.Parse(moduleConfig.Schedule)
		if err != nil {
			return nil, fmt.Errorf("fees: schedule: %w", err)
		}
		room, err := ref.ParseRoomID(moduleConfig.Room)
		if err != nil {
			return nil, fmt.Errorf("fees: room: %w", err)
		}
		if moduleConfig.Message == "" {
			return nil, fmt.Errorf("fees: message is required")
		}

		reminder := &reminder{
			env:      env,
			schedule: schedule,
			room:     room,
			message:  moduleConfig.Message,
			now:      time.Now,
		}
		return []bot.Worker{reminder.run}, nil
	}}
}

type reminder struct {
	env      *bot.Environment
	schedule cron.Schedule
	room     ref.RoomID
	message  string

	// now is swapped in tests.
	now func() time.Time
}

func (r *reminder) run(ctx context.Context) {
	for {
		next, err := r.schedule.Next(r.now())
		if err != nil {
			// An impossible schedule (e.g. Feb 31) parsed fine but never
			// fires; stop the worker rather than spin.
			r.env.Logger.Error("fee reminder schedule never fires", "error", err)
			return
		}
		r.env.Logger.Info("next fee reminder scheduled", "at", next)

		select {
		case <-time.After(time.Until(next)):
			r.post(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *reminder) post(ctx context.Context) {
	err := r.env.Apply(ctx, bot.Action{
		Kind: bot.ActionSay,
		Room: r.room,
		Body: r.message,
	})
	if err != nil {
		r.env.Logger.Error("failed to post fee reminder", "room", r.room, "error", err)
		return
	}
	r.env.Logger.Info("posted fee reminder", "room", r.room)
}
