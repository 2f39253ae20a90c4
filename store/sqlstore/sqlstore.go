/*
Package sqlstore implements core.Store on database/sql.

PURPOSE:
  The SQLite and MySQL backends share every query; they differ only in
  schema DDL, in how a room is locked and in which driver errors mean
  "try again". Those differences live in a Dialect supplied by the
  backend package, which also owns the driver import.

TIME ENCODING:
  All instants are stored in UTC as "2006-01-02 15:04:05". The format
  sorts lexically in chronological order, so range predicates on the
  reservations(room_id, start_at, end_at) index work on both backends.

PENDING CHANGES:
  At most one pending change exists per reservation. InsertChange checks
  under the room lock, so reservation reads can LEFT JOIN the pending
  change and derive the effective status in SQL.

SEE ALSO:
  - core/store.go:   Store and Tx contracts
  - store/sqlite:    SQLite dialect (mattn/go-sqlite3)
  - store/mysql:     MySQL dialect (go-sql-driver/mysql)
*/
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/warp/roombook/core"
)

// TimeLayout is the stored form of every instant.
const TimeLayout = "2006-01-02 15:04:05"

// Dialect carries what differs between backends.
type Dialect struct {
	Name string

	// Schema statements run in order by Migrate. One statement each.
	Schema []string

	// LockRoom is a query taking the room id that blocks other writers on
	// the room until commit. Empty means the backend already serializes
	// all writers.
	LockRoom string

	// ForUpdate is appended to reads that must hold row locks.
	ForUpdate string

	// Transient reports driver errors that are safe to retry.
	Transient func(error) bool

	// Duplicate reports unique constraint violations.
	Duplicate func(error) bool
}

type Options struct {
	Dialect Dialect

	// Serialize wraps every call in a process-wide RWMutex. Used by SQLite,
	// which allows one writer at a time anyway.
	Serialize bool
}

// Store implements core.Store.
type Store struct {
	db        *sql.DB
	d         Dialect
	serialize bool
	mu        sync.RWMutex
}

// New wraps an open database and migrates the schema.
func New(ctx context.Context, db *sql.DB, opts Options) (*Store, error) {
	s := &Store{db: db, d: opts.Dialect, serialize: opts.Serialize}
	if s.d.Transient == nil {
		s.d.Transient = func(error) bool { return false }
	}
	if s.d.Duplicate == nil {
		s.d.Duplicate = func(error) bool { return false }
	}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the handle for tooling.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the schema and seeds the settings row when missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.wrap("migrate", err)
		}
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM settings").Scan(&n); err != nil {
		return s.wrap("migrate", err)
	}
	if n > 0 {
		return nil
	}
	p := core.DefaultPolicy()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, approval_mode, slot_minutes, max_duration_minutes, open_time, close_time)
		VALUES (1, ?, ?, ?, ?, ?)`,
		p.ApprovalMode, p.SlotMinutes, p.MaxDurationMinutes, p.OpenTime, p.CloseTime,
	)
	return s.wrap("seed settings", err)
}

func (s *Store) rlock() func() {
	if !s.serialize {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock() func() {
	if !s.serialize {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(core.Tx) error) error {
	defer s.lock()()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx, s: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return s.wrap("commit", err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Store) Ping(ctx context.Context) error {
	return s.wrap("ping", s.db.PingContext(ctx))
}

func (s *Store) ListRooms(ctx context.Context, activeOnly bool) ([]core.Room, error) {
	defer s.rlock()()

	query := "SELECT id, name, active FROM rooms"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY name, id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.wrap("list rooms", err)
	}
	defer rows.Close()

	var rooms []core.Room
	for rows.Next() {
		var r core.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Active); err != nil {
			return nil, s.wrap("scan room", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, s.wrap("list rooms", rows.Err())
}

func (s *Store) ListReservations(ctx context.Context, f core.ReservationFilter) ([]core.Reservation, error) {
	defer s.rlock()()

	var w where
	if f.OwnerID != nil {
		w.add("r.owner_id = ?", string(*f.OwnerID))
	}
	if f.RoomID != nil {
		w.add("r.room_id = ?", string(*f.RoomID))
	}
	if f.From != nil {
		w.add("r.start_at >= ?", formatTime(*f.From))
	}
	if f.To != nil {
		w.add("r.end_at <= ?", formatTime(*f.To))
	}
	if f.StartBefore != nil {
		w.add("r.start_at < ?", formatTime(*f.StartBefore))
	}
	if len(f.Statuses) > 0 {
		args := make([]any, len(f.Statuses))
		for i, st := range f.Statuses {
			args[i] = string(st)
		}
		w.add(effectiveStatus+" IN ("+placeholders(len(args))+")", args...)
	}

	return s.queryReservations(ctx, s.db, selectReservation+w.sql()+" ORDER BY r.start_at, r.id", w.args...)
}

func (s *Store) GetReservation(ctx context.Context, id core.ReservationID) (*core.Reservation, error) {
	defer s.rlock()()
	return s.getReservation(ctx, s.db, id, "")
}

func (s *Store) ListPendingChanges(ctx context.Context) ([]core.ReservationChange, error) {
	defer s.rlock()()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.reservation_id, c.requested_by,
		       c.old_start_at, c.old_end_at, c.new_start_at, c.new_end_at,
		       c.status, c.reject_reason, c.created_at, c.updated_at,
		       r.title, COALESCE(u.name, ''), COALESCE(u.company_name, '')
		FROM reservation_changes c
		JOIN reservations r ON r.id = c.reservation_id
		LEFT JOIN users u ON u.id = r.owner_id
		WHERE c.status = 'pending'
		ORDER BY c.created_at, c.id`)
	if err != nil {
		return nil, s.wrap("list pending changes", err)
	}
	defer rows.Close()

	var changes []core.ReservationChange
	for rows.Next() {
		var (
			c   core.ReservationChange
			raw changeRow
		)
		if err := rows.Scan(raw.dest(&c)...); err != nil {
			return nil, s.wrap("scan change", err)
		}
		if err := raw.decode(&c); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, s.wrap("list pending changes", rows.Err())
}

func (s *Store) ListNotifications(ctx context.Context, f core.NotificationFilter) ([]core.Notification, error) {
	defer s.rlock()()

	query := "SELECT n.id, n.reservation_id, n.type, n.payload_json, n.created_at FROM notifications n"
	var args []any
	if f.OwnerID != nil {
		query += " JOIN reservations r ON r.id = n.reservation_id WHERE r.owner_id = ?"
		args = append(args, string(*f.OwnerID))
	}
	query += " ORDER BY n.seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("list notifications", err)
	}
	defer rows.Close()

	var out []core.Notification
	for rows.Next() {
		var (
			n       core.Notification
			payload []byte
			created string
		)
		if err := rows.Scan(&n.ID, &n.ReservationID, &n.Type, &payload, &created); err != nil {
			return nil, s.wrap("scan notification", err)
		}
		if err := json.Unmarshal(payload, &n.Payload); err != nil {
			return nil, fmt.Errorf("sqlstore: decode notification %s: %w", n.ID, err)
		}
		if n.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, s.wrap("list notifications", rows.Err())
}

func (s *Store) GetPolicy(ctx context.Context) (core.PolicyConfig, error) {
	defer s.rlock()()
	return s.getPolicy(ctx, s.db)
}

func (s *Store) ListUsers(ctx context.Context) ([]core.User, error) {
	defer s.rlock()()

	rows, err := s.db.QueryContext(ctx, selectUser+" ORDER BY email, id")
	if err != nil {
		return nil, s.wrap("list users", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, s.wrap("list users", rows.Err())
}

// =============================================================================
// SHARED QUERIES
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// effectiveStatus mirrors core.Reservation.EffectiveStatus.
const effectiveStatus = "(CASE WHEN c.id IS NOT NULL THEN 'pending' ELSE r.status END)"

const selectReservation = `
	SELECT r.id, r.room_id, r.owner_id, r.title, r.start_at, r.end_at, r.status,
	       r.created_at, r.updated_at,
	       COALESCE(u.name, ''), COALESCE(u.company_name, ''),
	       c.id, c.requested_by, c.old_start_at, c.old_end_at, c.new_start_at, c.new_end_at,
	       c.created_at, c.updated_at
	FROM reservations r
	LEFT JOIN users u ON u.id = r.owner_id
	LEFT JOIN reservation_changes c ON c.reservation_id = r.id AND c.status = 'pending'`

func (s *Store) queryReservations(ctx context.Context, q querier, query string, args ...any) ([]core.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("query reservations", err)
	}
	defer rows.Close()

	var out []core.Reservation
	for rows.Next() {
		r, err := s.scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, s.wrap("query reservations", rows.Err())
}

func (s *Store) getReservation(ctx context.Context, q querier, id core.ReservationID, suffix string) (*core.Reservation, error) {
	row := q.QueryRowContext(ctx, selectReservation+" WHERE r.id = ?"+suffix, string(id))
	r, err := s.scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	return r, err
}

func (s *Store) scanReservation(sc scanner) (*core.Reservation, error) {
	var (
		r                     core.Reservation
		title                 sql.NullString
		start, end            string
		created, updated      string
		changeID, requestedBy sql.NullString
		oldStart, oldEnd      sql.NullString
		newStart, newEnd      sql.NullString
		chCreated, chUpdated  sql.NullString
	)
	err := sc.Scan(
		&r.ID, &r.RoomID, &r.OwnerID, &title, &start, &end, &r.Status,
		&created, &updated,
		&r.OwnerName, &r.OwnerCompany,
		&changeID, &requestedBy, &oldStart, &oldEnd, &newStart, &newEnd,
		&chCreated, &chUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, s.wrap("scan reservation", err)
	}

	r.Title = fromNull(title)
	var perr error
	r.Window, perr = parseRange(start, end)
	if perr != nil {
		return nil, perr
	}
	if r.CreatedAt, perr = parseTime(created); perr != nil {
		return nil, perr
	}
	if r.UpdatedAt, perr = parseTime(updated); perr != nil {
		return nil, perr
	}

	if changeID.Valid {
		ch := &core.ReservationChange{
			ID:            core.ChangeID(changeID.String),
			ReservationID: r.ID,
			RequestedBy:   core.UserID(requestedBy.String),
			Status:        core.ChangePending,
		}
		if ch.Old, perr = parseRange(oldStart.String, oldEnd.String); perr != nil {
			return nil, perr
		}
		if ch.New, perr = parseRange(newStart.String, newEnd.String); perr != nil {
			return nil, perr
		}
		if ch.CreatedAt, perr = parseTime(chCreated.String); perr != nil {
			return nil, perr
		}
		if ch.UpdatedAt, perr = parseTime(chUpdated.String); perr != nil {
			return nil, perr
		}
		r.PendingChange = ch
	}
	return &r, nil
}

// changeRow holds the raw columns of a pending-changes listing row.
type changeRow struct {
	oldStart, oldEnd string
	newStart, newEnd string
	reason           sql.NullString
	created, updated string
	title            sql.NullString
}

func (raw *changeRow) dest(c *core.ReservationChange) []any {
	return []any{
		&c.ID, &c.ReservationID, &c.RequestedBy,
		&raw.oldStart, &raw.oldEnd, &raw.newStart, &raw.newEnd,
		&c.Status, &raw.reason, &raw.created, &raw.updated,
		&raw.title, &c.OwnerName, &c.OwnerCompany,
	}
}

func (raw *changeRow) decode(c *core.ReservationChange) error {
	var err error
	if c.Old, err = parseRange(raw.oldStart, raw.oldEnd); err != nil {
		return err
	}
	if c.New, err = parseRange(raw.newStart, raw.newEnd); err != nil {
		return err
	}
	if c.CreatedAt, err = parseTime(raw.created); err != nil {
		return err
	}
	if c.UpdatedAt, err = parseTime(raw.updated); err != nil {
		return err
	}
	c.RejectReason = fromNull(raw.reason)
	c.Title = fromNull(raw.title)
	return nil
}

func (s *Store) getPolicy(ctx context.Context, q querier) (core.PolicyConfig, error) {
	var (
		p         core.PolicyConfig
		updatedAt sql.NullString
		updatedBy sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT approval_mode, slot_minutes, max_duration_minutes, open_time, close_time, updated_at, updated_by
		FROM settings WHERE id = 1`,
	).Scan(&p.ApprovalMode, &p.SlotMinutes, &p.MaxDurationMinutes, &p.OpenTime, &p.CloseTime, &updatedAt, &updatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DefaultPolicy(), nil
	}
	if err != nil {
		return p, s.wrap("get policy", err)
	}
	if updatedAt.Valid {
		if p.UpdatedAt, err = parseTime(updatedAt.String); err != nil {
			return p, err
		}
	}
	p.UpdatedBy = core.UserID(updatedBy.String)
	return p, nil
}

const selectUser = "SELECT id, email, name, company_name, role, status, created_at, updated_at FROM users"

func (s *Store) scanUser(sc scanner) (*core.User, error) {
	var (
		u                core.User
		created, updated string
	)
	err := sc.Scan(&u.ID, &u.Email, &u.Name, &u.CompanyName, &u.Role, &u.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("scan user", err)
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &u, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// wrap classifies a driver error. Nil stays nil.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) || s.d.Transient(err) {
		return &core.TransientError{Op: s.d.Name + ": " + op, Err: err}
	}
	return fmt.Errorf("%s: %s: %w", s.d.Name, op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func formatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return t, fmt.Errorf("sqlstore: bad stored time %q: %w", s, err)
	}
	return t, nil
}

func parseRange(start, end string) (core.TimeRange, error) {
	s, err := parseTime(start)
	if err != nil {
		return core.TimeRange{}, err
	}
	e, err := parseTime(end)
	if err != nil {
		return core.TimeRange{}, err
	}
	return core.TimeRange{Start: s, End: e}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
