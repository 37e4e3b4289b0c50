// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/pelletier/go-toml/v2"

	"github.com/switchboard-bot/switchboard/lib/ref"
)

// ErrNoPath is returned by Load and NewStore when the path argument is
// empty.
var ErrNoPath = errors.New("config: no configuration path given")

// NoModuleConfigError is returned when the [module] table has no
// subtree for the requested module name.
type NoModuleConfigError struct {
	Name string
}

func (e *NoModuleConfigError) Error() string {
	return fmt.Sprintf("config: no configuration for module %q", e.Name)
}

// ParseError wraps a TOML syntax error, distinguishing it from I/O
// failures so the reload controller can report "parse error, previous
// configuration kept" precisely.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config: parsing %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Snapshot is an immutable, fully parsed configuration. Fields are
// never mutated after Load returns; sharing a *Snapshot across
// goroutines is safe without synchronization.
type Snapshot struct {
	// Homeserver is the Matrix homeserver base URL.
	Homeserver string `toml:"homeserver"`

	// UserID is the bot's fully-qualified Matrix user ID.
	UserID ref.UserID `toml:"user_id"`

	// Password authenticates the first login. Once a session artifact
	// exists the password is not used again until the artifact is
	// removed.
	Password string `toml:"password"`

	// DeviceID labels the bot's device in the homeserver device list.
	DeviceID string `toml:"device_id"`

	// DataDir holds session.json and store.db.
	DataDir string `toml:"data_dir"`

	// Prefixes is the ordered command prefix list. A prefix of length 1
	// sigilizes the next token (".help"); a longer prefix is a
	// whole-word trigger ("hey bot help"). Order is the match order.
	Prefixes []string `toml:"prefixes"`

	// CoreModules lists starter names whose failure is fatal at startup
	// and at reload. All other starters fail soft (logged and skipped).
	CoreModules []string `toml:"core_modules"`

	// MembershipFile is the path of the YAML membership roster used by
	// the ActiveMember and MaybeInactiveMember ACL predicates. Optional;
	// when empty those predicates reject everyone.
	MembershipFile string `toml:"membership_file"`

	// Module holds the opaque per-module configuration subtrees, keyed
	// by module name.
	Module map[string]map[string]any `toml:"module"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Snapshot, error) {
	if path == "" {
		return nil, ErrNoPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var snapshot Snapshot
	if err := toml.Unmarshal(data, &snapshot); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	if err := snapshot.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &snapshot, nil
}

// validate checks required top-level keys, collecting all failures.
func (s *Snapshot) validate() error {
	var errs []error

	if s.Homeserver == "" {
		errs = append(errs, fmt.Errorf("homeserver is required"))
	}
	if s.UserID.IsZero() {
		errs = append(errs, fmt.Errorf("user_id is required"))
	}
	if s.Password == "" {
		errs = append(errs, fmt.Errorf("password is required"))
	}
	if s.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}
	if len(s.Prefixes) == 0 {
		errs = append(errs, fmt.Errorf("at least one command prefix is required"))
	}
	for _, prefix := range s.Prefixes {
		if prefix == "" {
			errs = append(errs, fmt.Errorf("empty string in prefixes"))
		}
	}

	return errors.Join(errs...)
}

// RawModuleConfig returns the opaque configuration subtree for the
// named module. Returns a *NoModuleConfigError if the subtree is
// missing. The returned map must be treated as read-only.
func (s *Snapshot) RawModuleConfig(name string) (map[string]any, error) {
	subtree, ok := s.Module[name]
	if !ok {
		return nil, &NoModuleConfigError{Name: name}
	}
	return subtree, nil
}

// ModuleConfig decodes the named module's configuration subtree into
// the module's own typed record. The subtree round-trips through TOML
// so the module type uses the same `toml` struct tags as the top-level
// configuration. Returns a *NoModuleConfigError if the subtree is
// missing.
func ModuleConfig[T any](s *Snapshot, name string) (T, error) {
	var decoded T

	subtree, err := s.RawModuleConfig(name)
	if err != nil {
		return decoded, err
	}

	// go-toml decodes tables into map[string]any; re-encoding the
	// subtree and decoding into the typed record handles nested tables
	// and arrays without a hand-written conversion per module.
	encoded, err := toml.Marshal(subtree)
	if err != nil {
		return decoded, fmt.Errorf("config: re-encoding module %q subtree: %w", name, err)
	}
	if err := toml.Unmarshal(encoded, &decoded); err != nil {
		return decoded, fmt.Errorf("config: decoding module %q configuration: %w", name, err)
	}
	return decoded, nil
}

// Store owns the current configuration snapshot and its source path.
// Readers call Snapshot for a cheap, tear-free view; Reload builds a
// replacement in isolation and installs it atomically.
type Store struct {
	path    string
	current atomic.Pointer[Snapshot]
}

// NewStore loads the configuration at path and returns a store holding
// it as the current snapshot.
func NewStore(path string) (*Store, error) {
	snapshot, err := Load(path)
	if err != nil {
		return nil, err
	}

	store := &Store{path: path}
	store.current.Store(snapshot)
	return store, nil
}

// Path returns the configuration file path the store reloads from.
func (s *Store) Path() string { return s.path }

// Snapshot returns the current configuration snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Reload re-parses the configuration file. On success the new snapshot
// is installed and returned; on any error the previous snapshot stays
// current and is untouched.
func (s *Store) Reload() (*Snapshot, error) {
	snapshot, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.current.Store(snapshot)
	return snapshot, nil
}
