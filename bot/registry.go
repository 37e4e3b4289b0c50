// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/switchboard-bot/switchboard/messaging"
)

// Starter builds a module's descriptors from the current environment
// (whose Config holds the snapshot to read). Starters run at startup
// and again at every reload; they must return promptly.
type Starter func(env *Environment) ([]*Spec, error)

// Worker is a long-lived background task: timed pollers, HTTP
// servers. It runs until its context is cancelled and must be
// cancellation-safe at every blocking point.
type Worker func(ctx context.Context)

// WorkerStarter builds a module's background workers. Long work
// happens inside the returned Worker, never in the starter.
type WorkerStarter func(env *Environment) ([]Worker, error)

// NamedStarter pairs a starter with its module name, for logs and the
// core-module fatal list.
type NamedStarter struct {
	Name  string
	Start Starter
}

// NamedWorkerStarter pairs a worker starter with its module name.
type NamedWorkerStarter struct {
	Name  string
	Start WorkerStarter
}

// Starters is the full set of module contributions the registry runs.
type Starters struct {
	// Modules contribute keyword and catch-all descriptors for the
	// main dispatch phase.
	Modules []NamedStarter
	// Passthrough contribute catch-all descriptors that run only when
	// no Exclusive module claims the event.
	Passthrough []NamedStarter
	// Workers contribute background tasks.
	Workers []NamedWorkerStarter
}

// FatalStarterError reports a failed starter that is listed in
// core_modules. It aborts startup and, at reload, the process.
type FatalStarterError struct {
	Name string
	Err  error
}

func (e *FatalStarterError) Error() string {
	return fmt.Sprintf("bot: core module %q failed to start: %v", e.Name, e.Err)
}

func (e *FatalStarterError) Unwrap() error { return e.Err }

// Registry owns the built module descriptors, their inbound channels
// and consumer goroutines, and the worker handles. One registry
// corresponds to one configuration snapshot; a reload builds a
// replacement and closes the old one.
type Registry struct {
	modules     []*Spec
	passthrough []*Spec
	invites     []InviteHandler

	cancelWorkers context.CancelFunc
	workers       sync.WaitGroup

	logger *slog.Logger
}

// BuildRegistry runs every starter against the environment's current
// configuration snapshot and wires the results.
//
// A failing starter is logged and skipped unless its name is in
// coreModules, in which case BuildRegistry stops and returns a
// *FatalStarterError. On any error the partially built registry is
// closed before returning.
func BuildRegistry(env *Environment, starters Starters, coreModules []string) (*Registry, error) {
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	registry := &Registry{
		cancelWorkers: cancelWorkers,
		logger:        env.Logger,
	}

	fatal := func(name string) bool { return slices.Contains(coreModules, name) }

	for _, starter := range starters.Modules {
		specs, err := starter.Start(env)
		if err != nil {
			if fatal(starter.Name) {
				registry.Close()
				return nil, &FatalStarterError{Name: starter.Name, Err: err}
			}
			env.Logger.Error("module starter failed, skipping", "module", starter.Name, "error", err)
			continue
		}
		for _, spec := range specs {
			registry.wire(env, spec)
			registry.modules = append(registry.modules, spec)
		}
	}

	for _, starter := range starters.Passthrough {
		specs, err := starter.Start(env)
		if err != nil {
			if fatal(starter.Name) {
				registry.Close()
				return nil, &FatalStarterError{Name: starter.Name, Err: err}
			}
			env.Logger.Error("passthrough starter failed, skipping", "module", starter.Name, "error", err)
			continue
		}
		for _, spec := range specs {
			if spec.Decide == nil {
				// Passthrough modules observe unclaimed messages; a
				// keyword trigger here is a configuration error.
				env.Logger.Error("passthrough module has no decider, skipping", "module", spec.Name)
				continue
			}
			registry.wire(env, spec)
			registry.passthrough = append(registry.passthrough, spec)
		}
	}

	for _, starter := range starters.Workers {
		workers, err := starter.Start(env)
		if err != nil {
			if fatal(starter.Name) {
				registry.Close()
				return nil, &FatalStarterError{Name: starter.Name, Err: err}
			}
			env.Logger.Error("worker starter failed, skipping", "module", starter.Name, "error", err)
			continue
		}
		for _, worker := range workers {
			registry.spawnWorker(workerCtx, starter.Name, worker)
		}
	}

	return registry, nil
}

// wire creates the module's capacity-1 inbound channel and consumer
// goroutine, and collects its invite handler. Specs without a handler
// get no channel; the dispatcher skips them.
func (r *Registry) wire(env *Environment, spec *Spec) {
	if spec.Invite != nil {
		r.invites = append(r.invites, spec.Invite)
	}
	if spec.Handle == nil {
		return
	}

	// Capacity 1: the channel is the unit of backpressure. A slow
	// module fills its one slot and drops its own events without
	// slowing anyone else.
	spec.events = make(chan *ConsumerEvent, 1)

	go func() {
		// Not tied to the worker context: at reload the sender side is
		// closed and the consumer drains what remains, then exits.
		for event := range spec.events {
			r.consume(env, spec, event)
		}
	}()
}

// consume runs the module handler for one event, surfacing errors to
// the originating room when the module declares an error prefix.
func (r *Registry) consume(env *Environment, spec *Spec, event *ConsumerEvent) {
	defer func() {
		if panicked := recover(); panicked != nil {
			r.logger.Error("module handler panicked",
				"module", spec.Name,
				"panic", panicked,
				"stack", string(debug.Stack()),
			)
		}
	}()

	err := spec.Handle(context.Background(), event)
	if err == nil {
		return
	}

	r.logger.Error("module handler failed",
		"module", spec.Name,
		"room", event.Room,
		"error", err,
	)
	if spec.ErrorPrefix == "" {
		return
	}
	reply := messaging.NewNoticeMessage(fmt.Sprintf("%s: %v", spec.ErrorPrefix, err))
	if _, sendErr := env.Session.SendMessage(context.Background(), event.Room, reply); sendErr != nil {
		r.logger.Error("failed to report module error to room",
			"module", spec.Name,
			"room", event.Room,
			"error", sendErr,
		)
	}
}

// spawnWorker runs a worker under the registry's worker context, with
// panic containment. Workers are not restarted until the next reload.
func (r *Registry) spawnWorker(ctx context.Context, name string, worker Worker) {
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		defer func() {
			if panicked := recover(); panicked != nil {
				r.logger.Error("worker panicked",
					"module", name,
					"panic", panicked,
					"stack", string(debug.Stack()),
				)
			}
		}()
		worker(ctx)
	}()
}

// ModuleHelp is one entry in the help listing.
type ModuleHelp struct {
	Name string
	Help string
}

// Help returns the name and help line of every registered module that
// declares one, main phase first.
func (r *Registry) Help() []ModuleHelp {
	var lines []ModuleHelp
	for _, spec := range r.modules {
		if spec.Help != "" {
			lines = append(lines, ModuleHelp{Name: spec.Name, Help: spec.Help})
		}
	}
	for _, spec := range r.passthrough {
		if spec.Help != "" {
			lines = append(lines, ModuleHelp{Name: spec.Name, Help: spec.Help})
		}
	}
	return lines
}

// Modules returns the main-phase descriptors in registration order.
func (r *Registry) Modules() []*Spec { return r.modules }

// Passthrough returns the passthrough descriptors in registration
// order.
func (r *Registry) Passthrough() []*Spec { return r.passthrough }

// InviteHandlers returns every registered invite handler.
func (r *Registry) InviteHandlers() []InviteHandler { return r.invites }

// Close aborts all workers and closes every module channel, then
// waits for the workers to exit. Consumers drain their remaining
// events in the background and exit on their own. The caller must
// have deregistered the dispatcher first so nothing sends on the
// closed channels.
func (r *Registry) Close() {
	r.cancelWorkers()
	for _, spec := range r.modules {
		if spec.events != nil {
			close(spec.events)
			spec.events = nil
		}
	}
	for _, spec := range r.passthrough {
		if spec.events != nil {
			close(spec.events)
			spec.events = nil
		}
	}
	r.workers.Wait()
}
