// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/lib/ref"
	"github.com/switchboard-bot/switchboard/messaging"
)

const (
	// sessionFileName is the session artifact under data_dir.
	sessionFileName = "session.json"

	// syncTimeout is the long-poll hold passed to /sync.
	syncTimeout = 30 * time.Second

	// maxEventAge filters the backlog: events whose server timestamp
	// is older than this are dropped before dispatch, so a restart
	// does not replay history as fresh commands.
	maxEventAge = 3 * time.Second

	// Sync failures back off exponentially between these bounds.
	syncRetryMin = 1 * time.Second
	syncRetryMax = 30 * time.Second
)

// SessionArtifact is the persisted record under
// <data_dir>/session.json. It is written at login and rewritten in
// full after every successful sync tick.
type SessionArtifact struct {
	HomeserverURL string     `json:"homeserver_url"`
	UserID        ref.UserID `json:"user_id"`
	DeviceID      string     `json:"device_id"`
	AccessToken   string     `json:"access_token"`
	SyncToken     string     `json:"sync_token,omitempty"`
}

// EventHandler receives the sync loop's output. Message gets every
// timeline message event that passes the age filter; Invite gets room
// invites. Either field may be nil.
type EventHandler struct {
	Message func(ctx context.Context, room ref.RoomID, event *messaging.Event)
	Invite  func(ctx context.Context, room ref.RoomID, sender ref.UserID)
}

// SessionManager owns the authenticated session, the persisted
// session artifact, and the sync loop. The installed EventHandler is
// swappable at runtime so a reload can replace the dispatcher without
// tearing down the session.
type SessionManager struct {
	session       *messaging.Session
	homeserverURL string
	artifactPath  string
	logger        *slog.Logger

	// mu guards handler and syncToken. Run holds it (read) while
	// invoking the handler, so SetHandler returning means no old
	// handler invocation is still in flight.
	mu        sync.RWMutex
	handler   *EventHandler
	syncToken string
}

// StartSession restores or creates the authenticated session.
//
// If a session artifact exists under the snapshot's data_dir, the
// session is restored from its token and the sync cursor is seeded
// from it. Otherwise StartSession performs a password login and
// writes a fresh artifact. The data directory is created if missing.
func StartSession(ctx context.Context, client *messaging.Client, snapshot *config.Snapshot, logger *slog.Logger) (*SessionManager, error) {
	if err := os.MkdirAll(snapshot.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("bot: creating data directory: %w", err)
	}
	artifactPath := filepath.Join(snapshot.DataDir, sessionFileName)

	manager := &SessionManager{
		homeserverURL: snapshot.Homeserver,
		artifactPath:  artifactPath,
		logger:        logger,
	}

	artifact, err := loadArtifact(artifactPath)
	switch {
	case err == nil:
		session, err := client.SessionFromToken(artifact.UserID, artifact.AccessToken, artifact.DeviceID)
		if err != nil {
			return nil, err
		}
		// The stored token may have been revoked; fail here rather
		// than on the first sync.
		if _, err := session.WhoAmI(ctx); err != nil {
			return nil, fmt.Errorf("bot: restored session is invalid, remove %s to re-login: %w", artifactPath, err)
		}
		manager.session = session
		manager.syncToken = artifact.SyncToken
		logger.Info("session restored", "user_id", artifact.UserID, "path", artifactPath)

	case errors.Is(err, os.ErrNotExist):
		session, err := client.Login(ctx, snapshot.UserID.Localpart(), snapshot.Password, snapshot.DeviceID)
		if err != nil {
			return nil, err
		}
		manager.session = session
		if err := manager.saveArtifact(); err != nil {
			return nil, err
		}
		logger.Info("logged in, session saved", "user_id", session.UserID(), "path", artifactPath)

	default:
		return nil, err
	}

	return manager, nil
}

// Session returns the underlying authenticated session.
func (m *SessionManager) Session() *messaging.Session { return m.session }

// SetHandler installs the handler the sync loop delivers to. Passing
// nil deregisters; when SetHandler returns, no invocation of the
// previous handler is still running.
func (m *SessionManager) SetHandler(handler *EventHandler) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Send sends a plain text message.
func (m *SessionManager) Send(ctx context.Context, room ref.RoomID, body string) error {
	_, err := m.session.SendMessage(ctx, room, messaging.NewTextMessage(body))
	return err
}

// SendHTML sends a formatted message with a plain-text fallback.
func (m *SessionManager) SendHTML(ctx context.Context, room ref.RoomID, plain, html string) error {
	_, err := m.session.SendMessage(ctx, room, messaging.NewFormattedMessage(plain, html))
	return err
}

// Run drives the sync loop until the context is cancelled. Sync
// failures are logged and retried with exponential backoff; no sync
// error halts the loop.
func (m *SessionManager) Run(ctx context.Context) error {
	retryDelay := syncRetryMin

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.mu.RLock()
		since := m.syncToken
		m.mu.RUnlock()

		options := messaging.SyncOptions{Since: since}
		if since != "" {
			options.Timeout = int(syncTimeout.Milliseconds())
			options.SetTimeout = true
		}

		response, err := m.session.Sync(ctx, options)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Error("sync failed, retrying", "error", err, "retry_in", retryDelay)
			m.session.CloseIdleConnections()
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			retryDelay = min(retryDelay*2, syncRetryMax)
			continue
		}
		retryDelay = syncRetryMin

		m.processResponse(ctx, response)

		m.mu.Lock()
		m.syncToken = response.NextBatch
		m.mu.Unlock()
		if err := m.saveArtifact(); err != nil {
			m.logger.Error("failed to persist session artifact", "error", err)
		}
	}
}

// processResponse delivers the sync response's events to the
// installed handler, applying the age filter.
func (m *SessionManager) processResponse(ctx context.Context, response *messaging.SyncResponse) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.handler == nil {
		return
	}

	cutoff := time.Now().Add(-maxEventAge).UnixMilli()

	if m.handler.Message != nil {
		for roomID, room := range response.Rooms.Join {
			for i := range room.Timeline.Events {
				event := &room.Timeline.Events[i]
				if event.Type != "m.room.message" {
					continue
				}
				if event.OriginServerTS < cutoff {
					continue
				}
				m.handler.Message(ctx, roomID, event)
			}
		}
	}

	if m.handler.Invite != nil {
		for roomID, invited := range response.Rooms.Invite {
			if sender, ok := inviteSender(invited); ok {
				m.handler.Invite(ctx, roomID, sender)
			}
		}
	}
}

// inviteSender finds the inviting user in a stripped invite state.
func inviteSender(invited messaging.InvitedRoom) (ref.UserID, bool) {
	for _, event := range invited.InviteState.Events {
		if event.Type != "m.room.member" {
			continue
		}
		if membershipValue, _ := event.Content["membership"].(string); membershipValue != "invite" {
			continue
		}
		if event.Sender.IsZero() {
			continue
		}
		return event.Sender, true
	}
	return ref.UserID{}, false
}

// loadArtifact reads the session artifact. A missing file surfaces as
// os.ErrNotExist for the caller to distinguish.
func loadArtifact(path string) (*SessionArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("bot: reading session artifact: %w", err)
	}

	var artifact SessionArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("bot: parsing session artifact %s: %w", path, err)
	}
	if artifact.AccessToken == "" {
		return nil, fmt.Errorf("bot: session artifact %s has no access token", path)
	}
	return &artifact, nil
}

// saveArtifact rewrites the artifact atomically (temp file + rename)
// so a crash mid-write never leaves a torn session file.
func (m *SessionManager) saveArtifact() error {
	m.mu.RLock()
	artifact := SessionArtifact{
		HomeserverURL: m.homeserverURL,
		UserID:        m.session.UserID(),
		DeviceID:      m.session.DeviceID(),
		AccessToken:   m.session.AccessToken(),
		SyncToken:     m.syncToken,
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("bot: encoding session artifact: %w", err)
	}

	temp, err := os.CreateTemp(filepath.Dir(m.artifactPath), sessionFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("bot: creating temp session artifact: %w", err)
	}
	defer os.Remove(temp.Name())

	if _, err := temp.Write(data); err != nil {
		temp.Close()
		return fmt.Errorf("bot: writing session artifact: %w", err)
	}
	if err := temp.Chmod(0o600); err != nil {
		temp.Close()
		return fmt.Errorf("bot: setting session artifact mode: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("bot: closing session artifact: %w", err)
	}
	if err := os.Rename(temp.Name(), m.artifactPath); err != nil {
		return fmt.Errorf("bot: installing session artifact: %w", err)
	}
	return nil
}
