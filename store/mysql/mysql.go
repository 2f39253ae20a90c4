/*
Package mysql provides the MySQL-backed core.Store.

PURPOSE:
  The multi-writer backend. Several server processes can share one
  database: LockRoom takes a row lock on the room (SELECT ... FOR UPDATE),
  so two admissions for the same room serialize inside InnoDB while
  different rooms proceed in parallel.

DSN:
  Any go-sql-driver DSN. The store forces parseTime=false (times are read
  in the shared layout), loc=UTC and clientFoundRows=true (an UPDATE that
  matches a row reports it even when no column changed).

ERRORS:
  1205 (lock wait timeout) and 1213 (deadlock) surface as
  core.ErrTransient. 1062 (duplicate key) maps like the SQLite backend.

SEE ALSO:
  - store/sqlstore: Queries and transactions
  - store/sqlite:   Embedded backend
*/
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/warp/roombook/store/sqlstore"
)

const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// Dialect is the MySQL flavour of the shared store.
var Dialect = sqlstore.Dialect{
	Name:      "mysql",
	Schema:    schema,
	LockRoom:  "SELECT id FROM rooms WHERE id = ? FOR UPDATE",
	ForUpdate: " FOR UPDATE",
	Transient: isTransient,
	Duplicate: isDuplicate,
}

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// New connects, verifies the connection and migrates the schema.
func New(ctx context.Context, cfg Config) (*sqlstore.Store, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	mc.ParseTime = false
	mc.Loc = time.UTC
	mc.ClientFoundRows = true

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(connector)

	// Pool settings
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Ping with timeout
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}

	store, err := NewWithDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB migrates an already open handle.
func NewWithDB(ctx context.Context, db *sql.DB) (*sqlstore.Store, error) {
	return sqlstore.New(ctx, db, sqlstore.Options{Dialect: Dialect})
}

func isTransient(err error) bool {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == errLockWaitTimeout || me.Number == errDeadlock
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		active TINYINT(1) NOT NULL DEFAULT 1
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL DEFAULT '',
		company_name VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(16) NOT NULL DEFAULT 'user',
		status VARCHAR(16) NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS reservations (
		id VARCHAR(64) PRIMARY KEY,
		room_id VARCHAR(64) NOT NULL,
		owner_id VARCHAR(64) NOT NULL,
		title VARCHAR(255) NULL,
		start_at DATETIME NOT NULL,
		end_at DATETIME NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		INDEX idx_reservations_room_window (room_id, start_at, end_at),
		INDEX idx_reservations_owner (owner_id, start_at),
		CONSTRAINT fk_reservations_room FOREIGN KEY (room_id) REFERENCES rooms(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS reservation_changes (
		id VARCHAR(64) PRIMARY KEY,
		reservation_id VARCHAR(64) NOT NULL,
		requested_by VARCHAR(64) NOT NULL,
		old_start_at DATETIME NOT NULL,
		old_end_at DATETIME NOT NULL,
		new_start_at DATETIME NOT NULL,
		new_end_at DATETIME NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		reject_reason TEXT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		INDEX idx_changes_reservation_status (reservation_id, status),
		CONSTRAINT fk_changes_reservation FOREIGN KEY (reservation_id) REFERENCES reservations(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS notifications (
		seq BIGINT AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(64) NOT NULL UNIQUE,
		reservation_id VARCHAR(64) NOT NULL,
		type VARCHAR(32) NOT NULL,
		payload_json JSON NOT NULL,
		created_at DATETIME NOT NULL,
		INDEX idx_notifications_reservation (reservation_id),
		CONSTRAINT fk_notifications_reservation FOREIGN KEY (reservation_id) REFERENCES reservations(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS settings (
		id INT PRIMARY KEY,
		approval_mode TINYINT(1) NOT NULL,
		slot_minutes INT NOT NULL,
		max_duration_minutes INT NOT NULL,
		open_time CHAR(5) NOT NULL,
		close_time CHAR(5) NOT NULL,
		updated_at DATETIME NULL,
		updated_by VARCHAR(64) NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
