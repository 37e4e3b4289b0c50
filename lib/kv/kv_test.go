// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "store.db"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	bucket := testStore(t).Namespace("inviter")

	type cooldown struct {
		NextAllowed time.Time `cbor:"next_allowed"`
	}

	want := cooldown{NextAllowed: time.Date(2026, time.September, 6, 12, 0, 0, 0, time.UTC)}
	if err := bucket.Put(ctx, "@alice:example.org", want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var got cooldown
	found, err := bucket.Get(ctx, "@alice:example.org", &got)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Get did not find the stored key")
	}
	if !got.NextAllowed.Equal(want.NextAllowed) {
		t.Errorf("NextAllowed = %s, want %s", got.NextAllowed, want.NextAllowed)
	}
}

func TestGetMissing(t *testing.T) {
	bucket := testStore(t).Namespace("inviter")

	var out string
	found, err := bucket.Get(context.Background(), "absent", &out)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("Get reported a missing key as found")
	}
}

func TestPutReplaces(t *testing.T) {
	ctx := context.Background()
	bucket := testStore(t).Namespace("counters")

	if err := bucket.Put(ctx, "pings", 1); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := bucket.Put(ctx, "pings", 2); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var got int
	if _, err := bucket.Get(ctx, "pings", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != 2 {
		t.Errorf("value = %d, want 2", got)
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	if err := store.Namespace("a").Put(ctx, "key", "from-a"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var out string
	found, err := store.Namespace("b").Get(ctx, "key", &out)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("namespace b sees namespace a's key")
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	bucket := testStore(t).Namespace("a")

	if err := bucket.Put(ctx, "key", "value"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := bucket.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	var out string
	if found, _ := bucket.Get(ctx, "key", &out); found {
		t.Error("key still present after Delete")
	}

	if err := bucket.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("deleting a missing key should not error: %v", err)
	}
}
