// Package snapshotstore persists the last successfully-applied catalog
// snapshot to sqlite, seeding the Catalog on cold start when the
// catalog source is unreachable (SPEC_FULL.md's snapshot cold-start
// cache addition). It follows the teacher's database/main.go
// sql.Open+CREATE TABLE IF NOT EXISTS+Exec/QueryRow conventions, but
// standardizes on the driver actually declared in the teacher's go.mod
// (modernc.org/sqlite, registered as "sqlite") rather than the
// mattn/go-sqlite3 cgo driver database/main.go imports despite it never
// being required.
package snapshotstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"smfs/internal/catalogsource"
)

// Store persists one row: the most recent raw Snapshot as JSON.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshot (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			body TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshot table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the given snapshot as the last-known-good state.
func (s *Store) Save(snap catalogsource.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshot (id, body, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, string(body))
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Load returns the last-saved snapshot, or ok=false if none has ever
// been saved (a fresh install, or a cache directory wiped between
// runs).
func (s *Store) Load() (catalogsource.Snapshot, bool, error) {
	var body string
	err := s.db.QueryRow(`SELECT body FROM snapshot WHERE id = 1`).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading snapshot: %w", err)
	}

	var snap catalogsource.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, false, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, true, nil
}
