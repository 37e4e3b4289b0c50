// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/switchboard-bot/switchboard/lib/ref"
)

// testSession creates a Session pointed at a fake homeserver handler.
func testSession(t *testing.T, handler http.HandlerFunc) *Session {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := client.SessionFromToken(ref.MustParseUserID("@bot:example.org"), "syt_token", "DEV")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	return session
}

func TestSync(t *testing.T) {
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/v3/sync" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		if got := request.URL.Query().Get("since"); got != "s100" {
			t.Errorf("since = %q", got)
		}
		if got := request.URL.Query().Get("timeout"); got != "30000" {
			t.Errorf("timeout = %q", got)
		}
		if got := request.Header.Get("Authorization"); got != "Bearer syt_token" {
			t.Errorf("Authorization = %q", got)
		}

		writer.Write([]byte(`{
			"next_batch": "s101",
			"rooms": {
				"join": {
					"!room:example.org": {
						"timeline": {"events": [
							{"event_id": "$e1", "type": "m.room.message",
							 "sender": "@alice:example.org", "origin_server_ts": 1000,
							 "content": {"msgtype": "m.text", "body": ".ping"}}
						]}
					}
				},
				"invite": {
					"!inv:example.org": {"invite_state": {"events": [
						{"type": "m.room.member", "sender": "@carol:example.org",
						 "state_key": "@bot:example.org",
						 "content": {"membership": "invite"}}
					]}}
				}
			}
		}`))
	})

	response, err := session.Sync(context.Background(), SyncOptions{Since: "s100", Timeout: 30000, SetTimeout: true})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if response.NextBatch != "s101" {
		t.Errorf("NextBatch = %q", response.NextBatch)
	}

	joined, ok := response.Rooms.Join[ref.MustParseRoomID("!room:example.org")]
	if !ok {
		t.Fatal("joined room missing from response")
	}
	if len(joined.Timeline.Events) != 1 {
		t.Fatalf("timeline events = %d", len(joined.Timeline.Events))
	}
	msgtype, body := joined.Timeline.Events[0].MessageBody()
	if msgtype != "m.text" || body != ".ping" {
		t.Errorf("MessageBody = %q, %q", msgtype, body)
	}

	if len(response.Rooms.Invite) != 1 {
		t.Errorf("invites = %d", len(response.Rooms.Invite))
	}
}

func TestSendMessage(t *testing.T) {
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", request.Method)
		}
		if !strings.HasPrefix(request.URL.Path, "/_matrix/client/v3/rooms/") ||
			!strings.Contains(request.URL.Path, "/send/m.room.message/") {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}

		var content MessageContent
		if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
			t.Errorf("decoding content: %v", err)
		}
		if content.Body != "hello" {
			t.Errorf("body = %q", content.Body)
		}

		writer.Write([]byte(`{"event_id": "$sent"}`))
	})

	eventID, err := session.SendMessage(context.Background(), ref.MustParseRoomID("!room:example.org"), NewTextMessage("hello"))
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if eventID.String() != "$sent" {
		t.Errorf("event ID = %q", eventID)
	}
}

func TestTransactionIDsAreUnique(t *testing.T) {
	var paths []string
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		paths = append(paths, request.URL.Path)
		writer.Write([]byte(`{"event_id": "$sent"}`))
	})

	room := ref.MustParseRoomID("!room:example.org")
	for range 3 {
		if _, err := session.SendMessage(context.Background(), room, NewTextMessage("x")); err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
	}

	seen := map[string]bool{}
	for _, path := range paths {
		if seen[path] {
			t.Fatalf("transaction ID reused: %s", path)
		}
		seen[path] = true
	}
}

func TestPowerLevels(t *testing.T) {
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.Write([]byte(`{"users": {"@ops:example.org": 100}, "users_default": 5}`))
	})

	levels, err := session.PowerLevels(context.Background(), ref.MustParseRoomID("!room:example.org"))
	if err != nil {
		t.Fatalf("PowerLevels failed: %v", err)
	}
	if levels.Users["@ops:example.org"] != 100 {
		t.Errorf("ops level = %d", levels.Users["@ops:example.org"])
	}
	if levels.UsersDefault != 5 {
		t.Errorf("users_default = %d", levels.UsersDefault)
	}
}

func TestCanonicalAliasAbsent(t *testing.T) {
	session := testSession(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusNotFound)
		writer.Write([]byte(`{"errcode":"M_NOT_FOUND","error":"no alias"}`))
	})

	alias, err := session.CanonicalAlias(context.Background(), ref.MustParseRoomID("!room:example.org"))
	if err != nil {
		t.Fatalf("CanonicalAlias failed: %v", err)
	}
	if !alias.IsZero() {
		t.Errorf("alias = %q, want zero", alias)
	}
}

func TestNewMarkdownMessage(t *testing.T) {
	content, err := NewMarkdownMessage("**firing**: disk full")
	if err != nil {
		t.Fatalf("NewMarkdownMessage failed: %v", err)
	}
	if content.Body != "**firing**: disk full" {
		t.Errorf("plain body = %q", content.Body)
	}
	if content.Format != "org.matrix.custom.html" {
		t.Errorf("format = %q", content.Format)
	}
	if !strings.Contains(content.FormattedBody, "<strong>firing</strong>") {
		t.Errorf("formatted body = %q", content.FormattedBody)
	}
}
