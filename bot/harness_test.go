// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/switchboard-bot/switchboard/lib/config"
	"github.com/switchboard-bot/switchboard/messaging"
)

// fakeHomeserver is a minimal Matrix homeserver for exercising the
// session manager and reload controller end to end: login, whoami, a
// scripted /sync queue, and message-send recording.
type fakeHomeserver struct {
	server *httptest.Server

	mu         sync.Mutex
	logins     int
	syncQueue  []string
	sent       []sentMessage
	nextNumber int
}

type sentMessage struct {
	room string
	body string
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	fake := &fakeHomeserver{}
	fake.server = httptest.NewServer(http.HandlerFunc(fake.handle))
	t.Cleanup(fake.server.Close)
	return fake
}

func (f *fakeHomeserver) URL() string { return f.server.URL }

// queueSync adds one /sync response body to the script. Once the
// script is exhausted, /sync returns quiet responses after a short
// hold.
func (f *fakeHomeserver) queueSync(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncQueue = append(f.syncQueue, body)
}

func (f *fakeHomeserver) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeHomeserver) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// waitForMessage polls until a sent message contains the substring.
func (f *fakeHomeserver) waitForMessage(t *testing.T, substring string) sentMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, message := range f.sentMessages() {
			if strings.Contains(message.body, substring) {
				return message
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for a message containing %q; sent: %v", substring, f.sentMessages())
	return sentMessage{}
}

func (f *fakeHomeserver) handle(writer http.ResponseWriter, request *http.Request) {
	path := request.URL.Path
	switch {
	case path == "/_matrix/client/v3/login":
		f.mu.Lock()
		f.logins++
		f.mu.Unlock()
		fmt.Fprint(writer, `{"user_id":"@bot:example.org","access_token":"syt_fake","device_id":"SWITCHBOARD"}`)

	case path == "/_matrix/client/v3/account/whoami":
		fmt.Fprint(writer, `{"user_id":"@bot:example.org"}`)

	case path == "/_matrix/client/v3/sync":
		f.mu.Lock()
		var body string
		if len(f.syncQueue) > 0 {
			body = f.syncQueue[0]
			f.syncQueue = f.syncQueue[1:]
		}
		f.nextNumber++
		number := f.nextNumber
		f.mu.Unlock()

		if body == "" {
			// Script exhausted: hold briefly, then report nothing new.
			time.Sleep(25 * time.Millisecond)
			body = fmt.Sprintf(`{"next_batch":"s%d"}`, number)
		}
		fmt.Fprint(writer, body)

	case strings.Contains(path, "/send/m.room.message/"):
		var content messaging.MessageContent
		json.NewDecoder(request.Body).Decode(&content)
		parts := strings.Split(path, "/")
		// .../rooms/<room>/send/m.room.message/<txn>
		room := parts[5]
		f.mu.Lock()
		f.sent = append(f.sent, sentMessage{room: room, body: content.Body})
		f.mu.Unlock()
		fmt.Fprint(writer, `{"event_id":"$sent"}`)

	case strings.Contains(path, "/state/"):
		writer.WriteHeader(http.StatusNotFound)
		fmt.Fprint(writer, `{"errcode":"M_NOT_FOUND","error":"not found"}`)

	default:
		writer.WriteHeader(http.StatusNotFound)
		fmt.Fprint(writer, `{"errcode":"M_UNRECOGNIZED","error":"unknown endpoint"}`)
	}
}

// newHomeserverConfig writes a config pointing at the fake homeserver
// and returns its store. extra is appended verbatim (module tables).
func newHomeserverConfig(t *testing.T, fake *fakeHomeserver, extra string) *config.Store {
	t.Helper()
	store, _ := writeHomeserverConfig(t, fake, extra)
	return store
}

func writeHomeserverConfig(t *testing.T, fake *fakeHomeserver, extra string) (*config.Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/config.toml"
	contents := fmt.Sprintf(`
homeserver = %q
user_id = "@bot:example.org"
password = "hunter2"
device_id = "SWITCHBOARD"
data_dir = %q
prefixes = ["."]
%s
`, fake.URL(), dir, extra)
	writeConfigFile(t, path, contents)
	store, err := config.NewStore(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	return store, path
}

func writeConfigFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
}
