// Package store provides SQLite persistence for Firewatch: the append-only
// entry log, PR metadata, sync checkpoints, the ack overlay, and freeze rows.
// Writes go through a single writer connection; reads use a concurrent
// read-only pool.
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// StoreError wraps IO and serialization faults from the database layer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// FreezeError reports freeze/unfreeze misuse (e.g. unfreezing a PR that is
// not frozen).
type FreezeError struct {
	Repo string
	PR   int
	Msg  string
}

func (e *FreezeError) Error() string {
	return fmt.Sprintf("freeze %s#%d: %s", e.Repo, e.PR, e.Msg)
}

// storeErr wraps a non-nil error in a StoreError.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Store persists Firewatch state.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// NewStore creates a store over a writer/reader pair and initializes the
// schema.
func NewStore(writer, reader *sqlx.DB) (*Store, error) {
	s := &Store{db: writer, ro: reader}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("firewatch schema init: %w", err)
	}
	return s, nil
}

// createTablesSQL holds the DDL for all Firewatch tables.
const createTablesSQL = `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT NOT NULL,
		repo TEXT NOT NULL,
		pr INTEGER NOT NULL,
		pr_state TEXT NOT NULL DEFAULT 'open',
		pr_author TEXT NOT NULL DEFAULT '',
		pr_title TEXT NOT NULL DEFAULT '',
		pr_branch TEXT NOT NULL DEFAULT '',
		pr_labels TEXT NOT NULL DEFAULT '[]',
		type TEXT NOT NULL,
		subtype TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		author_login TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		file TEXT NOT NULL DEFAULT '',
		line INTEGER NOT NULL DEFAULT 0,
		database_id INTEGER NOT NULL DEFAULT 0,
		thread_resolved INTEGER,
		file_activity TEXT,
		thumbs_up_by TEXT,
		graphite TEXT,
		url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		captured_at DATETIME NOT NULL,
		PRIMARY KEY (id, repo)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_repo_pr ON entries(repo, pr);
	CREATE INDEX IF NOT EXISTS idx_entries_repo_type ON entries(repo, type);
	CREATE INDEX IF NOT EXISTS idx_entries_repo_created ON entries(repo, created_at);

	CREATE TABLE IF NOT EXISTS prs (
		repo TEXT NOT NULL,
		pr INTEGER NOT NULL,
		state TEXT NOT NULL DEFAULT 'open',
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT '',
		labels TEXT NOT NULL DEFAULT '[]',
		draft INTEGER NOT NULL DEFAULT 0,
		node_id TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (repo, pr)
	);

	CREATE TABLE IF NOT EXISTS sync_meta (
		repo TEXT NOT NULL,
		scope TEXT NOT NULL,
		last_sync DATETIME NOT NULL,
		pr_count INTEGER NOT NULL DEFAULT 0,
		cursor TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (repo, scope)
	);

	CREATE TABLE IF NOT EXISTS acks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		repo TEXT NOT NULL,
		comment_id TEXT NOT NULL,
		pr INTEGER NOT NULL DEFAULT 0,
		acked_at DATETIME NOT NULL,
		acked_by TEXT NOT NULL DEFAULT '',
		reaction_added INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_acks_repo_comment ON acks(repo, comment_id);

	CREATE TABLE IF NOT EXISTS freezes (
		repo TEXT NOT NULL,
		pr INTEGER NOT NULL,
		frozen_at DATETIME NOT NULL,
		PRIMARY KEY (repo, pr)
	);
`

func (s *Store) initSchema() error {
	_, err := s.db.Exec(createTablesSQL)
	return err
}
