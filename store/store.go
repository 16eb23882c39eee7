// Package store is the persistent layer: commits and test results in a
// SQLite database, mirrored in memory. Both tables are append-only or
// monotonic (a result is written at most once; a commit's build_failed flag
// only transitions to true), so the mirrors are populated once at open and
// updated write-through with no invalidation logic.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/benchd/benchd/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS commits (
	hash         TEXT PRIMARY KEY,
	message      TEXT NOT NULL,
	time         INTEGER NOT NULL,
	build_failed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS results (
	test_id     TEXT NOT NULL,
	commit_hash TEXT NOT NULL,
	value       REAL NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (test_id, commit_hash)
);
`

// Store wraps the database together with its in-memory mirrors.
type Store struct {
	logger zerolog.Logger
	db     *sql.DB

	results     model.ResultMatrix
	buildFailed map[string]bool
}

// Open opens (creating if necessary) the database at path and loads the
// result matrix and unbuildable-commit set into memory.
func Open(logger zerolog.Logger, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{
		logger:      logger,
		db:          db,
		results:     make(model.ResultMatrix),
		buildFailed: make(map[string]bool),
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug().
		Str("path", path).
		Int("results", len(s.results)).
		Int("unbuildable", len(s.buildFailed)).
		Msg("Opened result store")
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT test_id, commit_hash, value, error FROM results`)
	if err != nil {
		return fmt.Errorf("load results: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r model.TestResult
		if err := rows.Scan(&r.TestID, &r.Commit, &r.Value, &r.Error); err != nil {
			return fmt.Errorf("scan result: %w", err)
		}
		s.results[model.ResultKey{TestID: r.TestID, Commit: r.Commit}] = r
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load results: %w", err)
	}

	failed, err := s.db.Query(`SELECT hash FROM commits WHERE build_failed = 1`)
	if err != nil {
		return fmt.Errorf("load unbuildable commits: %w", err)
	}
	defer failed.Close()
	for failed.Next() {
		var hash string
		if err := failed.Scan(&hash); err != nil {
			return fmt.Errorf("scan commit: %w", err)
		}
		s.buildFailed[hash] = true
	}
	return failed.Err()
}

// Results returns the in-memory result matrix, kept current write-through.
// Callers must treat it as read-only.
func (s *Store) Results() model.ResultMatrix { return s.results }

// BuildFailed reports whether hash has a permanently failed build.
func (s *Store) BuildFailed(hash string) bool { return s.buildFailed[hash] }

// RecordCommit inserts a commit if it is not yet known. Existing rows are
// left untouched; commits are immutable apart from the build_failed flag.
func (s *Store) RecordCommit(c model.Commit) error {
	_, err := s.db.Exec(
		`INSERT INTO commits (hash, message, time, build_failed) VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO NOTHING`,
		c.Hash, c.Message, c.Time.Unix(), c.BuildFailed,
	)
	if err != nil {
		return fmt.Errorf("record commit %s: %w", c.Hash, err)
	}
	return nil
}

// MarkBuildFailed permanently flags a commit as unbuildable, in the
// database and in the mirror. The flag never transitions back.
func (s *Store) MarkBuildFailed(hash string) error {
	if _, err := s.db.Exec(`UPDATE commits SET build_failed = 1 WHERE hash = ?`, hash); err != nil {
		return fmt.Errorf("mark build failed %s: %w", hash, err)
	}
	s.buildFailed[hash] = true
	return nil
}

// RecordResults persists one commit's batch of results inside a single
// transaction, so a crash mid-batch never leaves a partially recorded
// commit visible. The mirror is updated only after the commit succeeds.
func (s *Store) RecordResults(results []model.TestResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin result transaction: %w", err)
	}
	for _, r := range results {
		if _, err := tx.Exec(
			`INSERT INTO results (test_id, commit_hash, value, error) VALUES (?, ?, ?, ?)`,
			r.TestID, r.Commit, r.Value, r.Error,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert result %s@%s: %w", r.TestID, r.Commit, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result transaction: %w", err)
	}
	for _, r := range results {
		s.results[model.ResultKey{TestID: r.TestID, Commit: r.Commit}] = r
	}
	return nil
}

// Commits returns every recorded commit ordered oldest first, for the
// snapshot export.
func (s *Store) Commits() ([]model.Commit, error) {
	rows, err := s.db.Query(`SELECT hash, message, time, build_failed FROM commits ORDER BY time, hash`)
	if err != nil {
		return nil, fmt.Errorf("load commits: %w", err)
	}
	defer rows.Close()
	var commits []model.Commit
	for rows.Next() {
		var c model.Commit
		var unix int64
		if err := rows.Scan(&c.Hash, &c.Message, &unix, &c.BuildFailed); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		c.Time = time.Unix(unix, 0).UTC()
		commits = append(commits, c)
	}
	return commits, rows.Err()
}
