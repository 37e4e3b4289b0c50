// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package webhook is the inbound HTTP surface: authenticated alert
// pushes on POST /alerts and Prometheus exposition on GET /metrics.
//
// Alert sources (Grafana instances and the like) are identified by
// their bearer token; each maps to a named bucket in the alert store
// and a list of rooms to notify.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/switchboard-bot/switchboard/alertstore"
	"github.com/switchboard-bot/switchboard/lib/ref"
	"github.com/switchboard-bot/switchboard/messaging"
)

// maxPayloadBytes caps the alert bundle body.
const maxPayloadBytes = 4 << 20

// Source is one configured alert origin: a shared-secret token and
// the rooms its notifications go to.
type Source struct {
	Name  string   `toml:"name"`
	Token string   `toml:"token"`
	Rooms []string `toml:"rooms"`
}

// notifier is the slice of the Matrix session the server sends
// through. *messaging.Session implements it.
type notifier interface {
	SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error)
	ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error)
}

// Config assembles a webhook server.
type Config struct {
	// ListenAddress is the host:port to bind.
	ListenAddress string
	// Sources maps bearer tokens to alert origins. Tokens must be
	// unique; names should be too.
	Sources []Source
	// Alerts is the shared firing-alerts table.
	Alerts *alertstore.Store
	// Session sends room notifications.
	Session notifier
	// Logger is required.
	Logger *slog.Logger
}

// Server is the webhook ingress. Create with New, run with Run.
type Server struct {
	listenAddress string
	byToken       map[string]Source
	alerts        *alertstore.Store
	session       notifier
	logger        *slog.Logger
	handler       http.Handler
}

// New builds the server and its routes.
func New(config Config) (*Server, error) {
	if config.ListenAddress == "" {
		return nil, fmt.Errorf("webhook: listen address is required")
	}
	if config.Alerts == nil {
		return nil, fmt.Errorf("webhook: alert store is required")
	}

	byToken := make(map[string]Source, len(config.Sources))
	for _, source := range config.Sources {
		if source.Token == "" {
			return nil, fmt.Errorf("webhook: source %q has no token", source.Name)
		}
		if _, dup := byToken[source.Token]; dup {
			return nil, fmt.Errorf("webhook: duplicate token across sources (one of them is %q)", source.Name)
		}
		byToken[source.Token] = source
	}

	server := &Server{
		listenAddress: config.ListenAddress,
		byToken:       byToken,
		alerts:        config.Alerts,
		session:       config.Session,
		logger:        config.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /alerts", server.handleAlerts)
	mux.Handle("GET /metrics", promhttp.Handler())
	server.handler = gzhttp.GzipHandler(instrument(mux))

	return server, nil
}

// Handler returns the server's HTTP handler, instrumented and
// gzip-wrapped.
func (s *Server) Handler() http.Handler { return s.handler }

// Run binds the listen address and serves until the context is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return fmt.Errorf("webhook: listening on %s: %w", s.listenAddress, err)
	}
	s.logger.Info("webhook server listening", "address", listener.Addr())

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("webhook: serve failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook: shutdown: %w", err)
	}
	return nil
}

// alertBundle is the POST /alerts wire format (Grafana-style
// webhook).
type alertBundle struct {
	Status            string             `json:"status"`
	Alerts            []alertstore.Alert `json:"alerts"`
	Receiver          string             `json:"receiver,omitempty"`
	OrgID             int64              `json:"orgId,omitempty"`
	GroupLabels       map[string]string  `json:"groupLabels,omitempty"`
	CommonLabels      map[string]string  `json:"commonLabels,omitempty"`
	CommonAnnotations map[string]string  `json:"commonAnnotations,omitempty"`
	ExternalURL       string             `json:"externalURL,omitempty"`
	Version           string             `json:"version,omitempty"`
	GroupKey          string             `json:"groupKey,omitempty"`
	TruncatedAlerts   int                `json:"truncatedAlerts,omitempty"`
	Title             string             `json:"title,omitempty"`
	State             string             `json:"state,omitempty"`
	Message           string             `json:"message,omitempty"`
}

func (s *Server) handleAlerts(writer http.ResponseWriter, request *http.Request) {
	source, ok := s.authenticate(request)
	if !ok {
		http.Error(writer, "forbidden", http.StatusForbidden)
		return
	}
	if s.session == nil {
		s.logger.Error("alert received but no session configured")
		http.Error(writer, "server misconfigured", http.StatusInternalServerError)
		return
	}

	var bundle alertBundle
	decoder := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxPayloadBytes))
	if err := decoder.Decode(&bundle); err != nil {
		s.logger.Warn("rejecting malformed alert bundle", "source", source.Name, "error", err)
		http.Error(writer, "malformed payload", http.StatusBadRequest)
		return
	}

	var changed []alertstore.Alert
	var resolved bool
	switch bundle.Status {
	case "firing":
		changed = s.alerts.Fire(source.Name, bundle.Alerts)
	case "resolved":
		resolved = true
		changed = s.alerts.Resolve(source.Name, bundle.Alerts)
	default:
		s.logger.Warn("rejecting alert bundle with unknown status",
			"source", source.Name, "status", bundle.Status)
		http.Error(writer, "unknown status", http.StatusBadRequest)
		return
	}

	s.logger.Info("alert bundle processed",
		"source", source.Name,
		"status", bundle.Status,
		"received", len(bundle.Alerts),
		"changed", len(changed),
	)

	// Notify after the store update. Send failures must not fail the
	// webhook: the alerting backend would retry and double-deliver.
	for _, alert := range changed {
		content, err := renderAlert(alert, resolved)
		if err != nil {
			s.logger.Error("failed to render alert", "source", source.Name, "error", err)
			continue
		}
		for _, room := range source.Rooms {
			if err := s.notify(request.Context(), room, content); err != nil {
				s.logger.Error("failed to notify room",
					"source", source.Name, "room", room, "error", err)
			}
		}
	}

	writer.WriteHeader(http.StatusOK)
}

// authenticate maps the bearer token to a configured source.
func (s *Server) authenticate(request *http.Request) (Source, bool) {
	header := request.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return Source{}, false
	}
	source, ok := s.byToken[token]
	return source, ok
}

// notify sends to a room given as either an ID or an alias.
func (s *Server) notify(ctx context.Context, room string, content messaging.MessageContent) error {
	roomID, err := ref.ParseRoomID(room)
	if err != nil {
		alias, aliasErr := ref.ParseRoomAlias(room)
		if aliasErr != nil {
			return errors.Join(err, aliasErr)
		}
		roomID, err = s.session.ResolveAlias(ctx, alias)
		if err != nil {
			return err
		}
	}
	_, err = s.session.SendMessage(ctx, roomID, content)
	return err
}

// renderAlert builds the plain+HTML notification for one changed
// alert.
func renderAlert(alert alertstore.Alert, resolved bool) (messaging.MessageContent, error) {
	var markdown strings.Builder
	if resolved {
		markdown.WriteString("**RESOLVED**: ")
	} else {
		markdown.WriteString("**FIRING**: ")
	}
	markdown.WriteString(alert.Name())

	if summary, ok := alert.Annotations["summary"]; ok && summary != "" {
		markdown.WriteString(" — ")
		markdown.WriteString(summary)
	}
	if !resolved && alert.GeneratorURL != "" {
		fmt.Fprintf(&markdown, " ([source](%s))", alert.GeneratorURL)
	}
	if !resolved && alert.SilenceURL != "" {
		fmt.Fprintf(&markdown, " ([silence](%s))", alert.SilenceURL)
	}

	return messaging.NewMarkdownMessage(markdown.String())
}
