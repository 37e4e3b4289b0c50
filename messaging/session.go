// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/switchboard-bot/switchboard/lib/ref"
)

// Session is an authenticated Matrix session: a Client plus an access
// token. Sessions are safe for concurrent use; every method is a
// single stateless HTTP call.
type Session struct {
	client      *Client
	accessToken string
	userID      ref.UserID
	deviceID    string

	// transactionCounter generates unique transaction IDs for
	// idempotent sends.
	transactionCounter atomic.Int64
}

// UserID returns the fully-qualified Matrix user ID.
func (s *Session) UserID() ref.UserID { return s.userID }

// DeviceID returns the device ID for this session.
func (s *Session) DeviceID() string { return s.deviceID }

// AccessToken returns the access token. Use only at persistence
// boundaries (writing the session artifact).
func (s *Session) AccessToken() string { return s.accessToken }

// CloseIdleConnections drops idle pooled connections in the underlying
// transport. Call after a sync error to force a fresh socket.
func (s *Session) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// WhoAmI validates the access token and returns the user ID it
// belongs to.
func (s *Session) WhoAmI(ctx context.Context) (ref.UserID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", s.accessToken, nil)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// Sync performs one /sync call. For the initial sync leave
// options.Since empty; for long-polling set options.Timeout (and
// SetTimeout) to the desired hold in milliseconds.
func (s *Session) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	if options.SetTimeout {
		query.Set("timeout", strconv.Itoa(options.Timeout))
	}
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

// SendMessage sends an m.room.message to a room using Matrix's
// idempotent PUT with a transaction ID. Returns the event ID.
func (s *Session) SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error) {
	transactionID := s.nextTransactionID()
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(transactionID),
	)

	body, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: send to %q failed: %w", roomID, err)
	}

	var response SendEventResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// GetStateEvent fetches a specific state event's content from a room.
// Returns the raw JSON content for the caller to unmarshal. If the
// state event does not exist, returns a *MatrixError with code
// M_NOT_FOUND.
func (s *Session) GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType, stateKey string) (json.RawMessage, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType),
		url.PathEscape(stateKey),
	)

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get state event %s/%s in %q failed: %w", eventType, stateKey, roomID, err)
	}
	return json.RawMessage(body), nil
}

// PowerLevels fetches and decodes the m.room.power_levels state event.
func (s *Session) PowerLevels(ctx context.Context, roomID ref.RoomID) (*PowerLevelsContent, error) {
	raw, err := s.GetStateEvent(ctx, roomID, "m.room.power_levels", "")
	if err != nil {
		return nil, err
	}
	var content PowerLevelsContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse power levels for %q: %w", roomID, err)
	}
	return &content, nil
}

// CanonicalAlias fetches the room's canonical alias. Returns a zero
// RoomAlias (and nil error) when the room has none.
func (s *Session) CanonicalAlias(ctx context.Context, roomID ref.RoomID) (ref.RoomAlias, error) {
	raw, err := s.GetStateEvent(ctx, roomID, "m.room.canonical_alias", "")
	if err != nil {
		if IsMatrixError(err, ErrCodeNotFound) {
			return ref.RoomAlias{}, nil
		}
		return ref.RoomAlias{}, err
	}

	var content CanonicalAliasContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return ref.RoomAlias{}, fmt.Errorf("messaging: failed to parse canonical alias for %q: %w", roomID, err)
	}
	if content.Alias == "" {
		return ref.RoomAlias{}, nil
	}
	return ref.ParseRoomAlias(content.Alias)
}

// ResolveAlias resolves a room alias to a room ID.
func (s *Session) ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	path := "/_matrix/client/v3/directory/room/" + url.PathEscape(alias.String())
	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: resolve alias %q failed: %w", alias, err)
	}

	var response ResolveAliasResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse resolve alias response: %w", err)
	}
	return response.RoomID, nil
}

// JoinRoom joins a room by ID. Returns the (possibly canonicalized)
// room ID.
func (s *Session) JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error) {
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{})
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join room %s failed: %w", roomID, err)
	}

	var response struct {
		RoomID ref.RoomID `json:"room_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// LeaveRoom leaves a room by ID.
func (s *Session) LeaveRoom(ctx context.Context, roomID ref.RoomID) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/leave", url.PathEscape(roomID.String()))
	if _, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{}); err != nil {
		return fmt.Errorf("messaging: leave room %q failed: %w", roomID, err)
	}
	return nil
}

// InviteUser invites a user to a room.
func (s *Session) InviteUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/invite", url.PathEscape(roomID.String()))
	if _, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, InviteRequest{UserID: userID}); err != nil {
		return fmt.Errorf("messaging: invite %q to %q failed: %w", userID, roomID, err)
	}
	return nil
}

// KickUser removes a user from a room with an optional reason.
func (s *Session) KickUser(ctx context.Context, roomID ref.RoomID, userID ref.UserID, reason string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/kick", url.PathEscape(roomID.String()))
	if _, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, KickRequest{UserID: userID, Reason: reason}); err != nil {
		return fmt.Errorf("messaging: kick %q from %q failed: %w", userID, roomID, err)
	}
	return nil
}

// JoinedRooms returns the list of room IDs the bot has joined.
func (s *Session) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/joined_rooms", s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: joined rooms failed: %w", err)
	}

	var response JoinedRoomsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined rooms response: %w", err)
	}
	return response.JoinedRooms, nil
}

// SetDisplayName sets the bot's own display name.
func (s *Session) SetDisplayName(ctx context.Context, displayName string) error {
	path := "/_matrix/client/v3/profile/" + url.PathEscape(s.userID.String()) + "/displayname"
	requestBody := map[string]string{"displayname": displayName}
	if _, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, requestBody); err != nil {
		return fmt.Errorf("messaging: set display name failed: %w", err)
	}
	return nil
}

// nextTransactionID generates a unique transaction ID for idempotent
// event sending. Format: "switchboard-<timestamp_ms>-<counter>" so IDs
// stay unique across restarts.
func (s *Session) nextTransactionID() string {
	counter := s.transactionCounter.Add(1)
	return fmt.Sprintf("switchboard-%d-%d", time.Now().UnixMilli(), counter)
}
