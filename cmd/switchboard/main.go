// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Command switchboard runs the Matrix community bot: one sync loop,
// a registry of chat modules, and the alert webhook ingress.
//
// Usage:
//
//	switchboard [flags] <config-path>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/switchboard-bot/switchboard/alertstore"
	"github.com/switchboard-bot/switchboard/bot"
	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/lib/kv"
	"github.com/switchboard-bot/switchboard/lib/ref"
	"github.com/switchboard-bot/switchboard/membership"
	"github.com/switchboard-bot/switchboard/messaging"
	"github.com/switchboard-bot/switchboard/modules/alerting"
	"github.com/switchboard-bot/switchboard/modules/autojoiner"
	"github.com/switchboard-bot/switchboard/modules/fees"
	"github.com/switchboard-bot/switchboard/modules/forgejo"
	"github.com/switchboard-bot/switchboard/modules/help"
	"github.com/switchboard-bot/switchboard/modules/inviter"
	"github.com/switchboard-bot/switchboard/modules/reloader"
	"github.com/switchboard-bot/switchboard/modules/webterm"
)

func main() {
	debugAddr := pflag.String("debug-addr", "", "serve pprof on this address")
	logLevel := pflag.String("log-level", "info", "log level: debug, info, warn, error")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <config-path>\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}

	if err := run(pflag.Arg(0), *debugAddr, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "switchboard: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, debugAddr, logLevel string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if debugAddr != "" {
		go func() {
			logger.Info("debug listener up", "addr", debugAddr)
			// DefaultServeMux carries the pprof handlers.
			if err := http.ListenAndServe(debugAddr, nil); err != nil {
				logger.Error("debug listener failed", "error", err)
			}
		}()
	}

	store, err := config.NewStore(configPath)
	if err != nil {
		return err
	}
	snapshot := store.Snapshot()

	members, err := membership.NewSource(snapshot.MembershipFile)
	if err != nil {
		return err
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: snapshot.Homeserver,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	manager, err := bot.StartSession(ctx, client, snapshot, logger)
	if err != nil {
		return err
	}

	kvStore, err := kv.Open(filepath.Join(snapshot.DataDir, "store.db"), logger)
	if err != nil {
		return err
	}
	defer kvStore.Close()

	env := &bot.Environment{
		Session: manager.Session(),
		Config:  store,
		Alerts:  alertstore.New(),
		KV:      kvStore,
		Members: members,
		Logger:  logger,
	}

	// The controller exists only after the first registry build, so the
	// help and reloader modules reach it through late-bound closures.
	var controller *bot.ReloadController

	starters := bot.Starters{
		Modules: []bot.NamedStarter{
			help.Starter(func() []bot.ModuleHelp { return controller.Registry().Help() }),
			alerting.Starter(),
			autojoiner.Starter(),
			inviter.Starter(),
			webterm.Starter(),
			reloader.Starter(func(room ref.RoomID) bool { return controller.Request(room) }),
		},
		Workers: []bot.NamedWorkerStarter{
			alerting.WorkerStarter(),
			forgejo.WorkerStarter(),
			fees.WorkerStarter(),
		},
	}

	registry, err := bot.BuildRegistry(env, starters, snapshot.CoreModules)
	if err != nil {
		return err
	}

	controller = bot.NewReloadController(manager, env, starters, registry)
	bot.InstallDispatcher(manager, env, registry, snapshot)
	go controller.Run(ctx)

	logger.Info("switchboard up",
		"user_id", manager.Session().UserID(),
		"homeserver", snapshot.Homeserver,
	)

	if err := manager.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}
