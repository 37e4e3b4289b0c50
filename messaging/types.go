// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/switchboard-bot/switchboard/lib/ref"
)

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	DeviceID                 string `json:"device_id,omitempty"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// MessageContent is the content body of an m.room.message event.
// FormattedBody carries the HTML rendering when Format is
// "org.matrix.custom.html"; clients that don't render HTML fall back
// to Body.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// NewTextMessage creates a plain m.text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: "m.text", Body: body}
}

// NewNoticeMessage creates an m.notice message. Bots send notices for
// automated output so that other bots ignore them.
func NewNoticeMessage(body string) MessageContent {
	return MessageContent{MsgType: "m.notice", Body: body}
}

// NewFormattedMessage creates an m.text message with an explicit HTML
// body alongside the plain-text fallback.
func NewFormattedMessage(plain, html string) MessageContent {
	return MessageContent{
		MsgType:       "m.text",
		Body:          plain,
		Format:        "org.matrix.custom.html",
		FormattedBody: html,
	}
}

// Event is a Matrix event from the server.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           string         `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	StateKey       *string        `json:"state_key,omitempty"`
}

// MessageBody extracts the msgtype and body strings from an
// m.room.message event's content map. Missing fields come back empty.
func (e Event) MessageBody() (msgtype, body string) {
	msgtype, _ = e.Content["msgtype"].(string)
	body, _ = e.Content["body"].(string)
	return msgtype, body
}

// SyncOptions controls the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from the previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds
	SetTimeout bool   // send the timeout parameter (distinguishes "not set" from 0)
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level /sync response.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups per-room sync data by membership state. Map keys
// are room IDs; encoding/json uses ref.RoomID's TextUnmarshaler for
// validation at deserialization.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a room the bot has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom contains sync data for a room the bot was invited to.
// InviteState carries stripped state events, including the
// m.room.member invite naming the inviter.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the bot has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// InviteRequest holds the user ID to invite to a room.
type InviteRequest struct {
	UserID ref.UserID `json:"user_id"`
}

// KickRequest is the request body for kicking a user from a room.
type KickRequest struct {
	UserID ref.UserID `json:"user_id"`
	Reason string     `json:"reason,omitempty"`
}

// SendEventResponse is returned by SendMessage and SendStateEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}

// JoinedRoomsResponse is returned by JoinedRooms.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// PowerLevelsContent is the content of an m.room.power_levels state
// event, reduced to the fields the ACL layer needs.
type PowerLevelsContent struct {
	Users        map[string]int `json:"users,omitempty"`
	UsersDefault int            `json:"users_default,omitempty"`
}

// CanonicalAliasContent is the content of an m.room.canonical_alias
// state event.
type CanonicalAliasContent struct {
	Alias string `json:"alias,omitempty"`
}
