// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/switchboard-bot/switchboard/alertstore"
	"github.com/switchboard-bot/switchboard/lib/ref"
	"github.com/switchboard-bot/switchboard/messaging"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeNotifier records room notifications.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []struct {
		room ref.RoomID
		body string
	}
}

func (f *fakeNotifier) SendMessage(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (ref.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, struct {
		room ref.RoomID
		body string
	}{roomID, content.Body})
	return ref.MustParseEventID("$sent"), nil
}

func (f *fakeNotifier) ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	return ref.MustParseRoomID("!resolved:example.org"), nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestServer(t *testing.T) (*Server, *fakeNotifier, *alertstore.Store) {
	t.Helper()
	notifier := &fakeNotifier{}
	alerts := alertstore.New()
	server, err := New(Config{
		ListenAddress: "127.0.0.1:0",
		Sources: []Source{{
			Name:  "src",
			Token: "sekrit",
			Rooms: []string{"!r1:example.org", "!r2:example.org"},
		}},
		Alerts:  alerts,
		Session: notifier,
		Logger:  testLogger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return server, notifier, alerts
}

func post(t *testing.T, server *Server, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, "/alerts", strings.NewReader(body))
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	return recorder
}

func TestAlertLifecycle(t *testing.T) {
	server, notifier, alerts := newTestServer(t)

	firing := `{"status":"firing","alerts":[
		{"status":"firing","fingerprint":"f1","labels":{"alertname":"DiskFull"}},
		{"status":"firing","fingerprint":"f2","labels":{"alertname":"HighLoad"}}
	]}`

	// Two new alerts, two rooms: four notifications.
	response := post(t, server, "sekrit", firing)
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %q", response.Code, response.Body)
	}
	if response.Body.Len() != 0 {
		t.Errorf("success body = %q, want empty", response.Body)
	}
	if notifier.count() != 4 {
		t.Fatalf("notifications = %d, want 4 (2 alerts x 2 rooms)", notifier.count())
	}
	if firingNow, _ := alerts.Get("src"); len(firingNow) != 2 {
		t.Errorf("bucket has %d alerts, want 2", len(firingNow))
	}

	// Redelivery: no new notifications, bucket unchanged.
	post(t, server, "sekrit", firing)
	if notifier.count() != 4 {
		t.Errorf("notifications after redelivery = %d, want still 4", notifier.count())
	}
	if firingNow, _ := alerts.Get("src"); len(firingNow) != 2 {
		t.Errorf("bucket has %d alerts after redelivery, want 2", len(firingNow))
	}

	// Resolve f1: two resolution notifications, f2 remains.
	resolvedBundle := `{"status":"resolved","alerts":[
		{"status":"resolved","fingerprint":"f1","labels":{"alertname":"DiskFull"}}
	]}`
	post(t, server, "sekrit", resolvedBundle)
	if notifier.count() != 6 {
		t.Errorf("notifications after resolve = %d, want 6", notifier.count())
	}
	firingNow, _ := alerts.Get("src")
	if len(firingNow) != 1 || firingNow[0].Fingerprint != "f2" {
		t.Errorf("bucket after resolve = %v, want [f2]", firingNow)
	}
}

func TestUnknownBundleStatusRejected(t *testing.T) {
	server, notifier, alerts := newTestServer(t)

	bundle := `{"status":"flapping","alerts":[
		{"status":"firing","fingerprint":"f1","labels":{"alertname":"DiskFull"}}
	]}`
	response := post(t, server, "sekrit", bundle)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown bundle status", response.Code)
	}
	if notifier.count() != 0 {
		t.Errorf("notifications = %d, want none", notifier.count())
	}
	if _, ok := alerts.Get("src"); ok {
		t.Error("unknown-status bundle created a bucket")
	}
}

func TestAuthFailures(t *testing.T) {
	server, notifier, _ := newTestServer(t)
	body := `{"status":"firing","alerts":[]}`

	t.Run("missing token", func(t *testing.T) {
		if response := post(t, server, "", body); response.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", response.Code)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		if response := post(t, server, "wrong", body); response.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", response.Code)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		request := httptest.NewRequest(http.MethodPost, "/alerts", strings.NewReader(body))
		request.Header.Set("Authorization", "Basic sekrit")
		recorder := httptest.NewRecorder()
		server.Handler().ServeHTTP(recorder, request)
		if recorder.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", recorder.Code)
		}
	})

	if notifier.count() != 0 {
		t.Error("unauthenticated request produced notifications")
	}
}

func TestMalformedPayload(t *testing.T) {
	server, _, _ := newTestServer(t)
	if response := post(t, server, "sekrit", "{not json"); response.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", response.Code)
	}
}

func TestMissingSessionIs500(t *testing.T) {
	server, err := New(Config{
		ListenAddress: "127.0.0.1:0",
		Sources:       []Source{{Name: "src", Token: "sekrit"}},
		Alerts:        alertstore.New(),
		Logger:        testLogger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if response := post(t, server, "sekrit", `{"status":"firing","alerts":[]}`); response.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", response.Code)
	}
}

func TestDuplicateTokensRejected(t *testing.T) {
	_, err := New(Config{
		ListenAddress: "127.0.0.1:0",
		Sources: []Source{
			{Name: "a", Token: "same"},
			{Name: "b", Token: "same"},
		},
		Alerts: alertstore.New(),
		Logger: testLogger,
	})
	if err == nil {
		t.Fatal("expected error for duplicate source tokens")
	}
}

func TestAliasRoomsResolved(t *testing.T) {
	notifier := &fakeNotifier{}
	alerts := alertstore.New()
	server, err := New(Config{
		ListenAddress: "127.0.0.1:0",
		Sources: []Source{{
			Name:  "src",
			Token: "sekrit",
			Rooms: []string{"#alerts:example.org"},
		}},
		Alerts:  alerts,
		Session: notifier,
		Logger:  testLogger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	post(t, server, "sekrit", `{"status":"firing","alerts":[{"fingerprint":"f1","labels":{"alertname":"A"}}]}`)

	if notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1", notifier.count())
	}
	if notifier.sent[0].room != ref.MustParseRoomID("!resolved:example.org") {
		t.Errorf("notified room = %v, want the resolved alias target", notifier.sent[0].room)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics exposition missing runtime collector series")
	}
}
