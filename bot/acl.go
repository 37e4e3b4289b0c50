// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"

	"github.com/switchboard-bot/switchboard/lib/ref"
	"github.com/switchboard-bot/switchboard/membership"
	"github.com/switchboard-bot/switchboard/messaging"
)

// roomState is the slice of the Matrix session the identity resolver
// reads. *messaging.Session implements it.
type roomState interface {
	PowerLevels(ctx context.Context, roomID ref.RoomID) (*messaging.PowerLevelsContent, error)
	CanonicalAlias(ctx context.Context, roomID ref.RoomID) (ref.RoomAlias, error)
}

// Identity resolves sender and room attributes for access checks:
// permission levels from m.room.power_levels, room names from the
// canonical alias, membership status from the roster.
type Identity struct {
	state   roomState
	members *membership.Source
}

// NewIdentity creates an identity resolver over the given session and
// membership source.
func NewIdentity(state roomState, members *membership.Source) *Identity {
	return &Identity{state: state, members: members}
}

// PermissionLevel resolves the sender's power level in the room: the
// users map entry if present, otherwise the room's users_default.
func (id *Identity) PermissionLevel(ctx context.Context, room ref.RoomID, sender ref.UserID) (int, error) {
	levels, err := id.state.PowerLevels(ctx, room)
	if err != nil {
		return 0, fmt.Errorf("bot: resolving permission level in %s: %w", room, err)
	}
	if level, ok := levels.Users[sender.String()]; ok {
		return level, nil
	}
	return levels.UsersDefault, nil
}

// RoomName resolves the room's canonical alias, falling back to the
// opaque room ID when the room has none.
func (id *Identity) RoomName(ctx context.Context, room ref.RoomID) (string, error) {
	alias, err := id.state.CanonicalAlias(ctx, room)
	if err != nil {
		return "", fmt.Errorf("bot: resolving canonical alias of %s: %w", room, err)
	}
	if alias.IsZero() {
		return room.String(), nil
	}
	return alias.String(), nil
}

// Predicate is one access rule. A module's ACL is an ordered slice of
// predicates, AND'd with short-circuit on the first failure; OR is
// expressed by registering the module twice.
type Predicate interface {
	// Allows reports whether the sender passes. An error means the
	// check could not be evaluated; the caller logs it and treats the
	// module as inaccessible.
	Allows(ctx context.Context, id *Identity, sender ref.UserID, room ref.RoomID, level int) (bool, error)
}

// CheckACL evaluates the predicates in order. The first failing or
// erroring predicate ends the evaluation.
func CheckACL(ctx context.Context, id *Identity, acl []Predicate, sender ref.UserID, room ref.RoomID, level int) (bool, error) {
	for _, predicate := range acl {
		allowed, err := predicate.Allows(ctx, id, sender, room, level)
		if err != nil {
			return false, err
		}
		if !allowed {
			return false, nil
		}
	}
	return true, nil
}

// ActiveMember passes only senders whose roster status is Active.
type ActiveMember struct{}

func (ActiveMember) Allows(ctx context.Context, id *Identity, sender ref.UserID, room ref.RoomID, level int) (bool, error) {
	return id.members.StatusOf(sender) == membership.Active, nil
}

// MaybeInactiveMember passes Active and Inactive senders; Stoned and
// unknown senders fail.
type MaybeInactiveMember struct{}

func (MaybeInactiveMember) Allows(ctx context.Context, id *Identity, sender ref.UserID, room ref.RoomID, level int) (bool, error) {
	status := id.members.StatusOf(sender)
	return status == membership.Active || status == membership.Inactive, nil
}

// SpecificUsers passes only the listed senders.
type SpecificUsers struct {
	Users []ref.UserID
}

func (p SpecificUsers) Allows(ctx context.Context, id *Identity, sender ref.UserID, room ref.RoomID, level int) (bool, error) {
	for _, user := range p.Users {
		if user == sender {
			return true, nil
		}
	}
	return false, nil
}

// RoomList passes when the room's canonical alias — or its ID, for
// rooms without one — is in the list.
type RoomList struct {
	Rooms []string
}

func (p RoomList) Allows(ctx context.Context, id *Identity, sender ref.UserID, room ref.RoomID, level int) (bool, error) {
	name, err := id.RoomName(ctx, room)
	if err != nil {
		return false, err
	}
	for _, candidate := range p.Rooms {
		if candidate == name {
			return true, nil
		}
	}
	return false, nil
}

// PermissionLevel passes senders whose resolved power level is at
// least Required.
type PermissionLevel struct {
	Required int
}

func (p PermissionLevel) Allows(ctx context.Context, id *Identity, sender ref.UserID, room ref.RoomID, level int) (bool, error) {
	return level >= p.Required, nil
}

// HomeserverList passes senders whose server name is in the list.
type HomeserverList struct {
	Servers []string
}

func (p HomeserverList) Allows(ctx context.Context, id *Identity, sender ref.UserID, room ref.RoomID, level int) (bool, error) {
	server := sender.Server()
	for _, candidate := range p.Servers {
		if candidate == server {
			return true, nil
		}
	}
	return false, nil
}
