// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package alerting surfaces the firing-alerts table in chat and runs
// the webhook server that feeds it. Chat keywords list what is
// currently firing and purge the table; the webhook worker receives
// pushes from the configured Grafana instances.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/switchboard-bot/switchboard/alertstore"
	"github.com/switchboard-bot/switchboard/bot"
	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/messaging"
	"github.com/switchboard-bot/switchboard/webhook"
)

// Config is the [module.alerting] table.
type Config struct {
	ListenAddress           string                    `toml:"listen_address"`
	Grafanas                map[string]webhook.Source `toml:"grafanas"`
	RoomsPurge              []string                  `toml:"rooms_purge"`
	KeywordsAlerting        []string                  `toml:"keywords_alerting"`
	KeywordsPurge           []string                  `toml:"keywords_purge"`
	NoFiringAlertsResponses []string                  `toml:"no_firing_alerts_responses"`
}

// Starter builds the chat-facing specs: the firing-alerts listing and
// the purge command.
func Starter() bot.NamedStarter {
	return bot.NamedStarter{Name: "alerting", Start: func(env *bot.Environment) ([]*bot.Spec, error) {
		moduleConfig, err := config.ModuleConfig[Config](env.Config.Snapshot(), "alerting")
		if err != nil {
			var missing *config.NoModuleConfigError
			if errors.As(err, &missing) {
				return nil, nil
			}
			return nil, err
		}

		var specs []*bot.Spec
		if len(moduleConfig.KeywordsAlerting) > 0 {
			specs = append(specs, &bot.Spec{
				Name:     "alerting",
				Help:     "list currently firing alerts",
				Keywords: moduleConfig.KeywordsAlerting,
				Handle: func(ctx context.Context, event *bot.ConsumerEvent) error {
					return listFiring(ctx, event, moduleConfig.NoFiringAlertsResponses)
				},
			})
		}
		if len(moduleConfig.KeywordsPurge) > 0 {
			specs = append(specs, &bot.Spec{
				Name:     "alerts_purge",
				Help:     "forget all firing alerts",
				Keywords: moduleConfig.KeywordsPurge,
				ACL:      []bot.Predicate{bot.RoomList{Rooms: moduleConfig.RoomsPurge}},
				Handle: func(ctx context.Context, event *bot.ConsumerEvent) error {
					event.Env.Alerts.Purge()
					return event.Env.Apply(ctx, bot.Action{
						Kind: bot.ActionNotice,
						Room: event.Room,
						Body: "all firing alerts purged",
					})
				},
			})
		}
		return specs, nil
	}}
}

// WorkerStarter builds the webhook server worker feeding the alert
// store.
func WorkerStarter() bot.NamedWorkerStarter {
	return bot.NamedWorkerStarter{Name: "alerting", Start: func(env *bot.Environment) ([]bot.Worker, error) {
		moduleConfig, err := config.ModuleConfig[Config](env.Config.Snapshot(), "alerting")
		if err != nil {
			var missing *config.NoModuleConfigError
			if errors.As(err, &missing) {
				return nil, nil
			}
			return nil, err
		}
		if moduleConfig.ListenAddress == "" {
			return nil, nil
		}

		sources := make([]webhook.Source, 0, len(moduleConfig.Grafanas))
		for _, source := range moduleConfig.Grafanas {
			sources = append(sources, source)
		}

		server, err := webhook.New(webhook.Config{
			ListenAddress: moduleConfig.ListenAddress,
			Sources:       sources,
			Alerts:        env.Alerts,
			Session:       env.Session,
			Logger:        env.Logger,
		})
		if err != nil {
			return nil, err
		}

		return []bot.Worker{func(ctx context.Context) {
			if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				env.Logger.Error("webhook server stopped", "error", err)
			}
		}}, nil
	}}
}

// listFiring replies with every source's firing alerts, or a canned
// all-clear line when nothing is firing.
func listFiring(ctx context.Context, event *bot.ConsumerEvent, allClear []string) error {
	var total int
	var markdown strings.Builder
	for _, source := range event.Env.Alerts.Sources() {
		firing, ok := event.Env.Alerts.Get(source)
		if !ok || len(firing) == 0 {
			continue
		}
		total += len(firing)
		fmt.Fprintf(&markdown, "**%s**:\n", source)
		for _, alert := range firing {
			fmt.Fprintf(&markdown, "- %s\n", alertLine(alert))
		}
	}

	if total == 0 {
		return event.Env.Apply(ctx, bot.Action{
			Kind: bot.ActionSay,
			Room: event.Room,
			Body: noFiringResponse(allClear, time.Now()),
		})
	}

	content, err := messaging.NewMarkdownMessage(markdown.String())
	if err != nil {
		return err
	}
	_, err = event.Env.Session.SendMessage(ctx, event.Room, content)
	return err
}

func alertLine(alert alertstore.Alert) string {
	line := alert.Name()
	if summary, ok := alert.Annotations["summary"]; ok && summary != "" {
		line += ": " + summary
	}

	// Labels in stable order, minus the name already shown.
	keys := make([]string, 0, len(alert.Labels))
	for key := range alert.Labels {
		if key != "alertname" {
			keys = append(keys, key)
		}
	}
	if len(keys) > 0 {
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, key := range keys {
			pairs[i] = key + "=" + alert.Labels[key]
		}
		line += " (" + strings.Join(pairs, ", ") + ")"
	}
	return line
}

// noFiringResponse picks a canned all-clear line. Wall-clock
// milliseconds modulo the list length: deterministic, weakly random,
// and entirely good enough for flavor text.
func noFiringResponse(responses []string, now time.Time) string {
	if len(responses) == 0 {
		return "no alerts firing"
	}
	return responses[now.UnixMilli()%int64(len(responses))]
}
