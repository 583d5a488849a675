// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache stores rewrite artifacts in SQLite, keyed by the content
// hash of the input module and the tool version. Rebuilding the same module
// twice is common under watch workflows; the second run is a lookup.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fitzgen/wasm-bindgen/internal/errors"
	"github.com/fitzgen/wasm-bindgen/internal/logger"
)

// SchemaVersion tracks the database schema for migrations.
const SchemaVersion = 1

// DefaultMaxBytes is the default cache size budget (256 MB).
const DefaultMaxBytes int64 = 256 * 1024 * 1024

// Entry is one cached rewrite result.
type Entry struct {
	Wasm []byte
	Glue string
}

// Status summarizes cache usage.
type Status struct {
	Entries    int64
	TotalBytes int64
}

// Store is a SQLite-backed artifact cache.
type Store struct {
	db *sql.DB
}

// Key derives the cache key for an input module and tool version.
func Key(module []byte, version string) string {
	h := sha256.New()
	h.Write(module)
	h.Write([]byte{0})
	h.Write([]byte(version))
	return hex.EncodeToString(h.Sum(nil))
}

// Open creates or opens the cache database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapCacheUnavailable(err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "artifacts.db"))
	if err != nil {
		return nil, errors.WrapCacheUnavailable(err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.WrapCacheUnavailable(err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			key TEXT PRIMARY KEY,
			wasm BLOB NOT NULL,
			glue TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			last_access INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS meta (
			schema_version INTEGER NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	var v int
	err = s.db.QueryRow(`SELECT schema_version FROM meta`).Scan(&v)
	if err == sql.ErrNoRows {
		_, err = s.db.Exec(`INSERT INTO meta (schema_version) VALUES (?)`, SchemaVersion)
	}
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached entry for key, if present.
func (s *Store) Get(key string) (*Entry, bool, error) {
	var e Entry
	err := s.db.QueryRow(`SELECT wasm, glue FROM artifacts WHERE key = ?`, key).
		Scan(&e.Wasm, &e.Glue)
	switch {
	case err == sql.ErrNoRows:
		return nil, false, nil
	case err != nil:
		return nil, false, errors.WrapCacheUnavailable(err)
	}
	now := time.Now().Unix()
	if _, err := s.db.Exec(`UPDATE artifacts SET last_access = ? WHERE key = ?`, now, key); err != nil {
		logger.Logger.Warn("cache access-time update failed", "err", err)
	}
	return &e, true, nil
}

// Put stores an entry under key, replacing any previous value.
func (s *Store) Put(key string, e *Entry) error {
	now := time.Now().Unix()
	size := int64(len(e.Wasm) + len(e.Glue))
	_, err := s.db.Exec(`
		INSERT INTO artifacts (key, wasm, glue, size, created_at, last_access)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			wasm = excluded.wasm,
			glue = excluded.glue,
			size = excluded.size,
			last_access = excluded.last_access
	`, key, e.Wasm, e.Glue, size, now, now)
	if err != nil {
		return errors.WrapCacheUnavailable(err)
	}
	return nil
}

// Trim evicts least-recently-used entries until the cache fits maxBytes.
func (s *Store) Trim(maxBytes int64) error {
	st, err := s.GetStatus()
	if err != nil {
		return err
	}
	for st.TotalBytes > maxBytes && st.Entries > 0 {
		res, err := s.db.Exec(`
			DELETE FROM artifacts WHERE key = (
				SELECT key FROM artifacts ORDER BY last_access ASC LIMIT 1
			)
		`)
		if err != nil {
			return errors.WrapCacheUnavailable(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			break
		}
		if st, err = s.GetStatus(); err != nil {
			return err
		}
	}
	return nil
}

// GetStatus reports entry count and total payload bytes.
func (s *Store) GetStatus() (Status, error) {
	var st Status
	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM artifacts`).
		Scan(&st.Entries, &st.TotalBytes)
	if err != nil {
		return Status{}, errors.WrapCacheUnavailable(err)
	}
	return st, nil
}

// Clear removes every entry.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM artifacts`); err != nil {
		return errors.WrapCacheUnavailable(err)
	}
	return nil
}

// String renders a human-readable status line.
func (st Status) String() string {
	return fmt.Sprintf("%d entries, %d bytes", st.Entries, st.TotalBytes)
}
