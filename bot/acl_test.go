// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/switchboard-bot/switchboard/lib/ref"
	"github.com/switchboard-bot/switchboard/membership"
	"github.com/switchboard-bot/switchboard/messaging"
)

func rosterIdentity(t *testing.T, state *fakeRoomState) *Identity {
	t.Helper()
	path := filepath.Join(t.TempDir(), "members.yaml")
	roster := `
members:
  "@alice:example.org": active
  "@bob:example.org": inactive
  "@mallory:example.org": stoned
`
	if err := os.WriteFile(path, []byte(roster), 0o644); err != nil {
		t.Fatalf("writing roster: %v", err)
	}
	members, err := membership.NewSource(path)
	if err != nil {
		t.Fatalf("membership source: %v", err)
	}
	if state == nil {
		state = &fakeRoomState{}
	}
	return NewIdentity(state, members)
}

func TestMembershipPredicates(t *testing.T) {
	identity := rosterIdentity(t, nil)
	ctx := context.Background()

	cases := []struct {
		user          string
		active        bool
		maybeInactive bool
	}{
		{"@alice:example.org", true, true},
		{"@bob:example.org", false, true},
		{"@mallory:example.org", false, false},
		{"@stranger:example.org", false, false},
	}
	for _, testCase := range cases {
		user := ref.MustParseUserID(testCase.user)

		allowed, err := ActiveMember{}.Allows(ctx, identity, user, testRoom, 0)
		if err != nil {
			t.Fatalf("ActiveMember(%s): %v", testCase.user, err)
		}
		if allowed != testCase.active {
			t.Errorf("ActiveMember(%s) = %v, want %v", testCase.user, allowed, testCase.active)
		}

		allowed, err = MaybeInactiveMember{}.Allows(ctx, identity, user, testRoom, 0)
		if err != nil {
			t.Fatalf("MaybeInactiveMember(%s): %v", testCase.user, err)
		}
		if allowed != testCase.maybeInactive {
			t.Errorf("MaybeInactiveMember(%s) = %v, want %v", testCase.user, allowed, testCase.maybeInactive)
		}
	}
}

func TestSpecificUsers(t *testing.T) {
	identity := rosterIdentity(t, nil)
	predicate := SpecificUsers{Users: []ref.UserID{testAlice}}

	if allowed, _ := predicate.Allows(context.Background(), identity, testAlice, testRoom, 0); !allowed {
		t.Error("listed user denied")
	}
	other := ref.MustParseUserID("@bob:example.org")
	if allowed, _ := predicate.Allows(context.Background(), identity, other, testRoom, 0); allowed {
		t.Error("unlisted user allowed")
	}
}

func TestRoomList(t *testing.T) {
	aliased := ref.MustParseRoomID("!ops:example.org")
	bare := ref.MustParseRoomID("!scratch:example.org")
	identity := rosterIdentity(t, &fakeRoomState{
		aliases: map[ref.RoomID]string{aliased: "#ops:example.org"},
	})

	t.Run("matches canonical alias", func(t *testing.T) {
		predicate := RoomList{Rooms: []string{"#ops:example.org"}}
		if allowed, _ := predicate.Allows(context.Background(), identity, testAlice, aliased, 0); !allowed {
			t.Error("room with listed alias denied")
		}
	})

	t.Run("falls back to room ID", func(t *testing.T) {
		predicate := RoomList{Rooms: []string{"!scratch:example.org"}}
		if allowed, _ := predicate.Allows(context.Background(), identity, testAlice, bare, 0); !allowed {
			t.Error("aliasless room not matched by ID")
		}
	})

	t.Run("alias takes precedence over ID", func(t *testing.T) {
		// A room with a canonical alias is identified by it, not by
		// the opaque ID.
		predicate := RoomList{Rooms: []string{"!ops:example.org"}}
		if allowed, _ := predicate.Allows(context.Background(), identity, testAlice, aliased, 0); allowed {
			t.Error("aliased room matched by raw ID")
		}
	})
}

func TestPermissionLevel(t *testing.T) {
	identity := rosterIdentity(t, nil)
	predicate := PermissionLevel{Required: 50}

	for level, want := range map[int]bool{49: false, 50: true, 100: true} {
		allowed, _ := predicate.Allows(context.Background(), identity, testAlice, testRoom, level)
		if allowed != want {
			t.Errorf("PermissionLevel(50) at level %d = %v, want %v", level, allowed, want)
		}
	}
}

func TestHomeserverList(t *testing.T) {
	identity := rosterIdentity(t, nil)
	predicate := HomeserverList{Servers: []string{"example.org"}}

	if allowed, _ := predicate.Allows(context.Background(), identity, testAlice, testRoom, 0); !allowed {
		t.Error("sender from listed homeserver denied")
	}
	outsider := ref.MustParseUserID("@eve:other.net")
	if allowed, _ := predicate.Allows(context.Background(), identity, outsider, testRoom, 0); allowed {
		t.Error("sender from unlisted homeserver allowed")
	}
}

// countingPredicate records whether it was evaluated.
type countingPredicate struct {
	evaluated *bool
	allow     bool
}

func (p countingPredicate) Allows(ctx context.Context, id *Identity, sender ref.UserID, room ref.RoomID, level int) (bool, error) {
	*p.evaluated = true
	return p.allow, nil
}

func TestCheckACLShortCircuits(t *testing.T) {
	identity := rosterIdentity(t, nil)

	var first, second bool
	acl := []Predicate{
		countingPredicate{evaluated: &first, allow: false},
		countingPredicate{evaluated: &second, allow: true},
	}

	allowed, err := CheckACL(context.Background(), identity, acl, testAlice, testRoom, 0)
	if err != nil {
		t.Fatalf("CheckACL failed: %v", err)
	}
	if allowed {
		t.Error("ACL with a failing predicate passed")
	}
	if !first {
		t.Error("first predicate never evaluated")
	}
	if second {
		t.Error("evaluation did not short-circuit after the first failure")
	}
}

func TestCheckACLEmptyAllows(t *testing.T) {
	identity := rosterIdentity(t, nil)
	allowed, err := CheckACL(context.Background(), identity, nil, testAlice, testRoom, 0)
	if err != nil || !allowed {
		t.Errorf("empty ACL = %v, %v; want allowed", allowed, err)
	}
}

// erroringState fails every lookup.
type erroringState struct{}

func (erroringState) PowerLevels(ctx context.Context, roomID ref.RoomID) (*messaging.PowerLevelsContent, error) {
	return nil, fmt.Errorf("state unavailable")
}

func (erroringState) CanonicalAlias(ctx context.Context, roomID ref.RoomID) (ref.RoomAlias, error) {
	return ref.RoomAlias{}, fmt.Errorf("state unavailable")
}

func TestRoomListErrorSurfaces(t *testing.T) {
	members, err := membership.NewSource("")
	if err != nil {
		t.Fatalf("membership source: %v", err)
	}
	identity := NewIdentity(erroringState{}, members)

	predicate := RoomList{Rooms: []string{"#ops:example.org"}}
	if _, err := predicate.Allows(context.Background(), identity, testAlice, testRoom, 0); err == nil {
		t.Error("expected error when alias resolution fails")
	}
}
