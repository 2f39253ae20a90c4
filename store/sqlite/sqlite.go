/*
Package sqlite provides the SQLite-backed core.Store.

PURPOSE:
  Opens a mattn/go-sqlite3 database, migrates the roombook schema and
  returns the shared database/sql store. All SQL other than the DDL lives
  in store/sqlstore.

CONCURRENCY:
  SQLite allows one writer at a time. The store is opened with
  _txlock=immediate so BEGIN takes the write lock up front, a single
  pooled connection, and the process-wide RWMutex from sqlstore. Two
  admissions therefore never interleave, and LockRoom is a no-op.

WAL MODE:
  Opened with WAL and a busy timeout. SQLITE_BUSY and SQLITE_LOCKED
  surface as core.ErrTransient.

USAGE:
  store, err := sqlite.New(ctx, "./data/roombook.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlstore: Queries and transactions
  - store/mysql:    Multi-writer backend
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/roombook/store/sqlstore"
)

// Dialect is the SQLite flavour of the shared store.
var Dialect = sqlstore.Dialect{
	Name:      "sqlite",
	Schema:    schema,
	Transient: isBusy,
	Duplicate: isUniqueConstraintError,
}

// New opens dbPath and migrates it. Use ":memory:" for an in-memory database.
func New(ctx context.Context, dbPath string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: keeps ":memory:" alive and matches SQLite's single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store, err := sqlstore.New(ctx, db, sqlstore.Options{Dialect: Dialect, Serialize: true})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func dsn(path string) string {
	params := "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// Times are TEXT. Declared DATETIME columns come back from the driver as
// time.Time, and the shared scanner reads the stored layout.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		company_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	// owner_id has no foreign key: token-only callers have no users row
	`CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		owner_id TEXT NOT NULL,
		title TEXT,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	// Conflict detection (hot path)
	`CREATE INDEX IF NOT EXISTS idx_reservations_room_window
		ON reservations(room_id, start_at, end_at)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_owner
		ON reservations(owner_id, start_at)`,

	`CREATE TABLE IF NOT EXISTS reservation_changes (
		id TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL REFERENCES reservations(id),
		requested_by TEXT NOT NULL,
		old_start_at TEXT NOT NULL,
		old_end_at TEXT NOT NULL,
		new_start_at TEXT NOT NULL,
		new_end_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reject_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_changes_reservation_status
		ON reservation_changes(reservation_id, status)`,

	// Append-only audit log
	`CREATE TABLE IF NOT EXISTS notifications (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		reservation_id TEXT NOT NULL REFERENCES reservations(id),
		type TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_notifications_reservation
		ON notifications(reservation_id)`,

	`CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		approval_mode INTEGER NOT NULL,
		slot_minutes INTEGER NOT NULL,
		max_duration_minutes INTEGER NOT NULL,
		open_time TEXT NOT NULL,
		close_time TEXT NOT NULL,
		updated_at TEXT,
		updated_by TEXT
	)`,
}
