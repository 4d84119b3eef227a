// Package spill is a shuffle store that keeps intermediate pairs in a SQLite
// file instead of memory.
package spill

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/dtnitsch/wcmr/models"
	_ "modernc.org/sqlite"
)

// Intermediate data is rebuilt by rerunning the job, so durability is off.
const schema = `
PRAGMA journal_mode = OFF;
PRAGMA synchronous = OFF;
PRAGMA temp_store = MEMORY;

CREATE TABLE IF NOT EXISTS pairs (
    part INTEGER NOT NULL,
    map_task INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    key TEXT NOT NULL,
    value INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pairs_task ON pairs(part, map_task);
CREATE INDEX IF NOT EXISTS idx_pairs_key ON pairs(part, key, map_task, seq);
`

// Store implements mapreduce.ShuffleStore on top of SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (or truncates) a spill database at path. ":memory:" keeps it
// in memory, which is only useful in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale spill file: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spill database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize spill schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Deliver replaces the pairs a map task produced for a partition.
func (s *Store) Deliver(ctx context.Context, mapTask, partition int, pairs []models.Pair) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin spill transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM pairs WHERE part = ? AND map_task = ?", partition, mapTask); err != nil {
		return fmt.Errorf("failed to clear previous delivery: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO pairs (part, map_task, seq, key, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for seq, p := range pairs {
		if _, err := stmt.ExecContext(ctx, partition, mapTask, seq, p.Key, p.Value); err != nil {
			return fmt.Errorf("failed to insert pair: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit spill transaction: %w", err)
	}
	return nil
}

// Groups reads a partition back grouped by key. SQLite's default BINARY
// collation orders keys byte-wise, the same as Go string comparison.
func (s *Store) Groups(ctx context.Context, partition int) ([]models.GroupedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM pairs
		WHERE part = ?
		ORDER BY key, map_task, seq
	`, partition)
	if err != nil {
		return nil, fmt.Errorf("failed to query partition %d: %w", partition, err)
	}
	defer rows.Close()

	var groups []models.GroupedRecord
	for rows.Next() {
		var key string
		var value int
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		n := len(groups)
		if n > 0 && groups[n-1].Key == key {
			groups[n-1].Values = append(groups[n-1].Values, value)
			continue
		}
		groups = append(groups, models.GroupedRecord{Key: key, Values: []int{value}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate partition %d: %w", partition, err)
	}
	return groups, nil
}

// Close closes the database and deletes its file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close spill database: %w", err)
	}
	if s.path != ":memory:" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove spill file: %w", err)
		}
	}
	return nil
}
