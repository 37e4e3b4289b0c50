// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package membership answers "is this user a member?" for access
// control. The roster is a YAML file mapping Matrix user IDs to a
// membership status, maintained outside the bot and reloaded together
// with the configuration.
package membership

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/switchboard-bot/switchboard/lib/ref"
)

// Status is a user's standing in the membership roster.
type Status int

const (
	// NotAMember is the status of anyone absent from the roster.
	NotAMember Status = iota
	// Active members pass the strictest membership checks.
	Active
	// Inactive members have lapsed but are still on the roster.
	Inactive
	// Stoned members are frozen out pending review. They count as
	// known but fail every membership check.
	Stoned
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Stoned:
		return "stoned"
	default:
		return "not-a-member"
	}
}

// parseStatus maps the roster file's status strings. Unknown strings
// are an error so a typo in the roster fails loudly at load time
// instead of silently locking a member out.
func parseStatus(raw string) (Status, error) {
	switch raw {
	case "active":
		return Active, nil
	case "inactive":
		return Inactive, nil
	case "stoned":
		return Stoned, nil
	default:
		return NotAMember, fmt.Errorf("membership: unknown status %q", raw)
	}
}

// rosterFile is the on-disk YAML shape.
type rosterFile struct {
	Members map[string]string `yaml:"members"`
}

// Source holds the loaded roster and serves status lookups. Safe for
// concurrent use; Reload swaps the roster under the same lock the
// lookups take.
type Source struct {
	mu      sync.RWMutex
	path    string
	members map[ref.UserID]Status
}

// NewSource loads the roster at path. An empty path yields a source
// that reports NotAMember for everyone, for deployments that don't use
// membership-gated modules.
func NewSource(path string) (*Source, error) {
	source := &Source{path: path}
	if path == "" {
		return source, nil
	}
	if err := source.Reload(); err != nil {
		return nil, err
	}
	return source, nil
}

// Reload re-reads the roster file. On any error the previous roster
// stays in place.
func (s *Source) Reload() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("membership: reading roster: %w", err)
	}

	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("membership: parsing roster %s: %w", s.path, err)
	}

	members := make(map[ref.UserID]Status, len(file.Members))
	for rawID, rawStatus := range file.Members {
		userID, err := ref.ParseUserID(rawID)
		if err != nil {
			return fmt.Errorf("membership: roster %s: %w", s.path, err)
		}
		status, err := parseStatus(rawStatus)
		if err != nil {
			return fmt.Errorf("membership: roster %s: user %s: %w", s.path, rawID, err)
		}
		members[userID] = status
	}

	s.mu.Lock()
	s.members = members
	s.mu.Unlock()
	return nil
}

// StatusOf returns the user's roster status. Users absent from the
// roster are NotAMember.
func (s *Source) StatusOf(userID ref.UserID) Status {
	statusRequests.Inc()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[userID]
}
