// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const validConfig = `
homeserver = "https://matrix.example.org"
user_id = "@bot:example.org"
password = "hunter2"
device_id = "SWITCHBOARD"
data_dir = "/var/lib/switchboard"
prefixes = [".", "hey bot"]
core_modules = ["reloader"]

[module.autojoiner]
homeservers = ["example.org"]

[module.inviter]
requests = "#requests:example.org"
approvers = ["@ops:example.org"]
invite_to = ["#general:example.org"]
homeservers_blanket_allow = []
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "switchboard.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		snapshot, err := Load(writeConfig(t, validConfig))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if snapshot.Homeserver != "https://matrix.example.org" {
			t.Errorf("Homeserver = %q", snapshot.Homeserver)
		}
		if snapshot.UserID.String() != "@bot:example.org" {
			t.Errorf("UserID = %q", snapshot.UserID)
		}
		if len(snapshot.Prefixes) != 2 || snapshot.Prefixes[0] != "." || snapshot.Prefixes[1] != "hey bot" {
			t.Errorf("Prefixes = %v", snapshot.Prefixes)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := Load(""); !errors.Is(err, ErrNoPath) {
			t.Errorf("Load(\"\") = %v, want ErrNoPath", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		if err == nil {
			t.Fatal("expected error for missing file")
		}
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			t.Error("missing file should be an I/O error, not a ParseError")
		}
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := Load(writeConfig(t, "homeserver = [unclosed"))
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("Load = %v, want *ParseError", err)
		}
	})

	t.Run("missing required keys", func(t *testing.T) {
		if _, err := Load(writeConfig(t, `homeserver = "https://matrix.example.org"`)); err == nil {
			t.Fatal("expected validation error")
		}
	})
}

func TestModuleConfig(t *testing.T) {
	snapshot, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	t.Run("typed decode", func(t *testing.T) {
		type inviterConfig struct {
			Requests  string   `toml:"requests"`
			Approvers []string `toml:"approvers"`
			InviteTo  []string `toml:"invite_to"`
		}
		decoded, err := ModuleConfig[inviterConfig](snapshot, "inviter")
		if err != nil {
			t.Fatalf("ModuleConfig failed: %v", err)
		}
		if decoded.Requests != "#requests:example.org" {
			t.Errorf("Requests = %q", decoded.Requests)
		}
		if len(decoded.Approvers) != 1 || decoded.Approvers[0] != "@ops:example.org" {
			t.Errorf("Approvers = %v", decoded.Approvers)
		}
	})

	t.Run("missing module", func(t *testing.T) {
		_, err := snapshot.RawModuleConfig("wolfram")
		var missing *NoModuleConfigError
		if !errors.As(err, &missing) {
			t.Fatalf("RawModuleConfig = %v, want *NoModuleConfigError", err)
		}
		if missing.Name != "wolfram" {
			t.Errorf("missing.Name = %q", missing.Name)
		}
	})
}

func TestStoreReload(t *testing.T) {
	path := writeConfig(t, validConfig)
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	before := store.Snapshot()

	t.Run("parse failure keeps old snapshot", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("broken = ["), 0o600); err != nil {
			t.Fatalf("rewriting config: %v", err)
		}
		if _, err := store.Reload(); err == nil {
			t.Fatal("expected reload error")
		}
		if store.Snapshot() != before {
			t.Error("failed reload replaced the snapshot")
		}
	})

	t.Run("successful reload swaps snapshot", func(t *testing.T) {
		updated := validConfig + "\n[module.fees]\nschedule = \"0 9 1 * *\"\nroom = \"#general:example.org\"\nmessage = \"fees due\"\n"
		if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
			t.Fatalf("rewriting config: %v", err)
		}
		after, err := store.Reload()
		if err != nil {
			t.Fatalf("Reload failed: %v", err)
		}
		if after == before {
			t.Error("reload did not produce a new snapshot")
		}
		if _, err := after.RawModuleConfig("fees"); err != nil {
			t.Errorf("new snapshot missing fees module: %v", err)
		}
		if store.Snapshot() != after {
			t.Error("store does not hold the new snapshot")
		}
	})
}
