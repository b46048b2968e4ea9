// Package store implements the warm-restart persistence side of component H
// (spec §4.H/§9): a modernc.org/sqlite-backed table holding the latest
// msgpack-encoded Balances snapshot per manager instance. Grounded on
// internal/database/db.go's WAL-mode connection setup, generalized from a
// shared *sql.DB to this package's own single-table store, and on
// internal/database/repositories/base.go's repository shape.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/aristath/balancecore/internal/balance/manager"
)

const schema = `
CREATE TABLE IF NOT EXISTS balance_snapshots (
	instance_key TEXT PRIMARY KEY,
	snapshot_at  INTEGER NOT NULL,
	payload      BLOB NOT NULL
);
`

// Store is the warm-restart persistence layer for one or more named manager
// instances (multiple strategies can share a single sqlite file, keyed by
// instanceKey).
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates (if needed) and opens the sqlite database at path, running
// WAL mode for concurrent readers alongside the periodic writer.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create balance store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open balance store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping balance store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer-per-manager; readers dispatch through the same handle

	s := &Store{db: db, log: log.With().Str("component", "balance_store").Logger()}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("migrate balance store: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists b under instanceKey inside a single transaction: every write
// threads the real *sql.Tx rather than issuing bare statements against the
// pool, so a failed encode or write never leaves a half-applied snapshot.
func (s *Store) Save(ctx context.Context, instanceKey string, b manager.Balances) error {
	payload, err := msgpack.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode balance snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin balance snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balance_snapshots (instance_key, snapshot_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(instance_key) DO UPDATE SET snapshot_at = excluded.snapshot_at, payload = excluded.payload
	`, instanceKey, b.Timestamp.UnixNano(), payload)
	if err != nil {
		return fmt.Errorf("write balance snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit balance snapshot transaction: %w", err)
	}

	s.log.Debug().
		Str("instance_key", instanceKey).
		Int("reservations", len(b.Reservations)).
		Msg("persisted balance snapshot")
	return nil
}

// Load reads back the most recently persisted snapshot for instanceKey, or
// (zero value, false, nil) if none has ever been saved.
func (s *Store) Load(ctx context.Context, instanceKey string) (manager.Balances, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM balance_snapshots WHERE instance_key = ?`, instanceKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return manager.Balances{}, false, nil
	}
	if err != nil {
		return manager.Balances{}, false, fmt.Errorf("read balance snapshot: %w", err)
	}

	var b manager.Balances
	if err := msgpack.Unmarshal(payload, &b); err != nil {
		return manager.Balances{}, false, fmt.Errorf("decode balance snapshot: %w", err)
	}
	return b, true, nil
}

// CheckIntegrity runs SQLite's PRAGMA integrity_check against the store.
func (s *Store) CheckIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("balance store integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("balance store integrity check returned: %s", result)
	}
	return nil
}

// CheckpointWAL runs a passive WAL checkpoint and returns the number of
// frames currently in the log, for the health-check job's large-WAL warning.
func (s *Store) CheckpointWAL(ctx context.Context) (frames int, err error) {
	var mode, busy, log, checkpointed int
	if err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&mode, &busy, &log, &checkpointed); err != nil {
		return 0, fmt.Errorf("balance store WAL checkpoint: %w", err)
	}
	return log, nil
}

// SnapshotAt returns when instanceKey's snapshot was last written, for
// staleness checks ahead of a warm restart.
func (s *Store) SnapshotAt(ctx context.Context, instanceKey string) (time.Time, bool, error) {
	var nanos int64
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_at FROM balance_snapshots WHERE instance_key = ?`, instanceKey).Scan(&nanos)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read balance snapshot timestamp: %w", err)
	}
	return time.Unix(0, nanos), true, nil
}
