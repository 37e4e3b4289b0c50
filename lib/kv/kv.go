// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package kv is the bot's persistent key-value facility, backed by
// store.db in the data directory. Values are CBOR-encoded, so modules
// can store their own record types (timestamps, counters, small
// structs) without defining per-module tables.
//
// Keys are namespaced: each module takes a Bucket for its own
// namespace and cannot trample another module's keys.
package kv

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fxamacker/cbor/v2"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/switchboard-bot/switchboard/lib/sqlitepool"
)

// Store owns the sqlite pool behind the key-value tables.
type Store struct {
	pool *sqlitepool.Pool
}

// Open opens (creating if needed) the key-value store at path.
// The caller must Close the store when done.
func Open(path string, logger *slog.Logger) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		Schema: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, `
				CREATE TABLE IF NOT EXISTS kv (
					namespace TEXT NOT NULL,
					key       TEXT NOT NULL,
					value     BLOB NOT NULL,
					PRIMARY KEY (namespace, key)
				)`, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("kv: opening %s: %w", path, err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Namespace returns a bucket scoped to the given namespace. Buckets
// are cheap values; create them freely.
func (s *Store) Namespace(name string) Bucket {
	return Bucket{store: s, namespace: name}
}

// Bucket is a namespaced view of the store. The zero value is not
// usable; obtain buckets from Store.Namespace.
type Bucket struct {
	store     *Store
	namespace string
}

// Put stores value under key, replacing any existing entry. The value
// is CBOR-encoded.
func (b Bucket) Put(ctx context.Context, key string, value any) error {
	encoded, err := cbor.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: encoding %s/%s: %w", b.namespace, key, err)
	}

	conn, err := b.store.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer b.store.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{Args: []any{b.namespace, key, encoded}})
	if err != nil {
		return fmt.Errorf("kv: writing %s/%s: %w", b.namespace, key, err)
	}
	return nil
}

// Get loads the value under key into out (a pointer), decoding CBOR.
// Returns false with a nil error when the key does not exist.
func (b Bucket) Get(ctx context.Context, key string, out any) (bool, error) {
	conn, err := b.store.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer b.store.pool.Put(conn)

	var encoded []byte
	found := false
	err = sqlitex.Execute(conn,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{b.namespace, key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				encoded = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, encoded)
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("kv: reading %s/%s: %w", b.namespace, key, err)
	}
	if !found {
		return false, nil
	}

	if err := cbor.Unmarshal(encoded, out); err != nil {
		return false, fmt.Errorf("kv: decoding %s/%s: %w", b.namespace, key, err)
	}
	return true, nil
}

// Delete removes the entry under key. Deleting a missing key is not an
// error.
func (b Bucket) Delete(ctx context.Context, key string) error {
	conn, err := b.store.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer b.store.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM kv WHERE namespace = ? AND key = ?`,
		&sqlitex.ExecOptions{Args: []any{b.namespace, key}})
	if err != nil {
		return fmt.Errorf("kv: deleting %s/%s: %w", b.namespace, key, err)
	}
	return nil
}
