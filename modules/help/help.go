// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package help replies to the help keyword with a listing of every
// registered module's help line.
package help

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/switchboard-bot/switchboard/bot"
	"github.com/switchboard-bot/switchboard/messaging"
)

// Starter builds the help module. lookup is called per request so the
// listing always reflects the live module set, including after a
// reload.
func Starter(lookup func() []bot.ModuleHelp) bot.NamedStarter {
	return bot.NamedStarter{Name: "help", Start: func(env *bot.Environment) ([]*bot.Spec, error) {
		return []*bot.Spec{{
			Name:     "help",
			Help:     "list available commands",
			Keywords: []string{".help"},
			Handle: func(ctx context.Context, event *bot.ConsumerEvent) error {
				return reply(ctx, event, lookup())
			},
		}}, nil
	}}
}

func reply(ctx context.Context, event *bot.ConsumerEvent, lines []bot.ModuleHelp) error {
	if len(lines) == 0 {
		return event.Env.Apply(ctx, bot.Action{Kind: bot.ActionNotice, Room: event.Room, Body: "no modules loaded"})
	}

	sorted := append([]bot.ModuleHelp(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var markdown strings.Builder
	markdown.WriteString("Available modules:\n")
	for _, line := range sorted {
		fmt.Fprintf(&markdown, "- **%s**: %s\n", line.Name, line.Help)
	}

	content, err := messaging.NewMarkdownMessage(markdown.String())
	if err != nil {
		return err
	}
	_, err = event.Env.Session.SendMessage(ctx, event.Room, content)
	return err
}
