package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/roombook/core"
)

// txStore implements core.Tx on one *sql.Tx.
type txStore struct {
	q *sql.Tx
	s *Store
}

func (t *txStore) LockRoom(ctx context.Context, id core.RoomID) error {
	if t.s.d.LockRoom == "" {
		return nil
	}
	var got string
	err := t.q.QueryRowContext(ctx, t.s.d.LockRoom, string(id)).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		// unknown room: GetRoom reports it
		return nil
	}
	return t.s.wrap("lock room", err)
}

func (t *txStore) GetRoom(ctx context.Context, id core.RoomID) (*core.Room, error) {
	var r core.Room
	err := t.q.QueryRowContext(ctx, "SELECT id, name, active FROM rooms WHERE id = ?", string(id)).
		Scan(&r.ID, &r.Name, &r.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, t.s.wrap("get room", err)
	}
	return &r, nil
}

func (t *txStore) SaveRoom(ctx context.Context, room core.Room) error {
	exists, err := t.exists(ctx, "rooms", string(room.ID))
	if err != nil {
		return err
	}
	if exists {
		_, err = t.q.ExecContext(ctx, "UPDATE rooms SET name = ?, active = ? WHERE id = ?",
			room.Name, room.Active, string(room.ID))
	} else {
		_, err = t.q.ExecContext(ctx, "INSERT INTO rooms (id, name, active) VALUES (?, ?, ?)",
			string(room.ID), room.Name, room.Active)
	}
	return t.s.wrap("save room", err)
}

func (t *txStore) GetPolicy(ctx context.Context) (core.PolicyConfig, error) {
	return t.s.getPolicy(ctx, t.q)
}

func (t *txStore) SavePolicy(ctx context.Context, p core.PolicyConfig) error {
	var updatedAt sql.NullString
	if !p.UpdatedAt.IsZero() {
		updatedAt = sql.NullString{String: formatTime(p.UpdatedAt), Valid: true}
	}
	var updatedBy sql.NullString
	if p.UpdatedBy != "" {
		updatedBy = sql.NullString{String: string(p.UpdatedBy), Valid: true}
	}
	_, err := t.q.ExecContext(ctx, `
		UPDATE settings
		SET approval_mode = ?, slot_minutes = ?, max_duration_minutes = ?,
		    open_time = ?, close_time = ?, updated_at = ?, updated_by = ?
		WHERE id = 1`,
		p.ApprovalMode, p.SlotMinutes, p.MaxDurationMinutes, p.OpenTime, p.CloseTime, updatedAt, updatedBy,
	)
	return t.s.wrap("save policy", err)
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (t *txStore) GetReservation(ctx context.Context, id core.ReservationID) (*core.Reservation, error) {
	return t.s.getReservation(ctx, t.q, id, t.s.d.ForUpdate)
}

func (t *txStore) FindOverlapping(ctx context.Context, q core.OverlapQuery) ([]core.Reservation, error) {
	var w where
	w.add("r.room_id = ?", string(q.RoomID))
	w.add("r.status IN (?, ?)", string(core.StatusPending), string(core.StatusApproved))
	w.add("r.start_at < ?", formatTime(q.Window.End))
	w.add("r.end_at > ?", formatTime(q.Window.Start))
	if q.ExcludeID != nil {
		w.add("r.id <> ?", string(*q.ExcludeID))
	}
	return t.s.queryReservations(ctx, t.q, selectReservation+w.sql()+" ORDER BY r.start_at, r.id", w.args...)
}

func (t *txStore) InsertReservation(ctx context.Context, r *core.Reservation) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO reservations (id, room_id, owner_id, title, start_at, end_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.RoomID), string(r.OwnerID), nullString(r.Title),
		formatTime(r.Window.Start), formatTime(r.Window.End), string(r.Status),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if t.s.d.Duplicate(err) {
		return core.ErrInvalidTransition
	}
	return t.s.wrap("insert reservation", err)
}

func (t *txStore) UpdateReservation(ctx context.Context, r *core.Reservation) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE reservations
		SET title = ?, start_at = ?, end_at = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		nullString(r.Title), formatTime(r.Window.Start), formatTime(r.Window.End),
		string(r.Status), formatTime(r.UpdatedAt), string(r.ID),
	)
	if err != nil {
		return t.s.wrap("update reservation", err)
	}
	return t.s.affected(res, "update reservation")
}

// =============================================================================
// CHANGES
// =============================================================================

func (t *txStore) InsertChange(ctx context.Context, c *core.ReservationChange) error {
	var n int
	err := t.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reservation_changes WHERE reservation_id = ? AND status = 'pending'",
		string(c.ReservationID),
	).Scan(&n)
	if err != nil {
		return t.s.wrap("check pending change", err)
	}
	if n > 0 {
		return core.ErrChangePending
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO reservation_changes
		(id, reservation_id, requested_by, old_start_at, old_end_at, new_start_at, new_end_at,
		 status, reject_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.ID), string(c.ReservationID), string(c.RequestedBy),
		formatTime(c.Old.Start), formatTime(c.Old.End), formatTime(c.New.Start), formatTime(c.New.End),
		string(c.Status), nullString(c.RejectReason), formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return t.s.wrap("insert change", err)
}

func (t *txStore) UpdateChange(ctx context.Context, c *core.ReservationChange) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE reservation_changes SET status = ?, reject_reason = ?, updated_at = ? WHERE id = ?`,
		string(c.Status), nullString(c.RejectReason), formatTime(c.UpdatedAt), string(c.ID),
	)
	if err != nil {
		return t.s.wrap("update change", err)
	}
	return t.s.affected(res, "update change")
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// AppendNotification only ever inserts.
func (t *txStore) AppendNotification(ctx context.Context, n core.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("sqlstore: encode notification %s: %w", n.ID, err)
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO notifications (id, reservation_id, type, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(n.ID), string(n.ReservationID), string(n.Type), string(payload), formatTime(n.CreatedAt),
	)
	return t.s.wrap("append notification", err)
}

// =============================================================================
// USERS
// =============================================================================

func (t *txStore) GetUser(ctx context.Context, id core.UserID) (*core.User, error) {
	row := t.q.QueryRowContext(ctx, selectUser+" WHERE id = ?"+t.s.d.ForUpdate, string(id))
	return t.s.scanUser(row)
}

func (t *txStore) SaveUser(ctx context.Context, u core.User) error {
	exists, err := t.exists(ctx, "users", string(u.ID))
	if err != nil {
		return err
	}
	if exists {
		_, err = t.q.ExecContext(ctx, `
			UPDATE users SET email = ?, name = ?, company_name = ?, role = ?, status = ?, updated_at = ?
			WHERE id = ?`,
			u.Email, u.Name, u.CompanyName, string(u.Role), string(u.Status), formatTime(u.UpdatedAt), string(u.ID))
	} else {
		_, err = t.q.ExecContext(ctx, `
			INSERT INTO users (id, email, name, company_name, role, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(u.ID), u.Email, u.Name, u.CompanyName, string(u.Role), string(u.Status),
			formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	}
	if t.s.d.Duplicate(err) {
		return core.NewValidationError(core.RuleInput, "Email already in use")
	}
	return t.s.wrap("save user", err)
}

func (t *txStore) CountActiveAdmins(ctx context.Context) (int, error) {
	rows, err := t.q.QueryContext(ctx,
		"SELECT id FROM users WHERE role = 'admin' AND status = 'active'"+t.s.d.ForUpdate)
	if err != nil {
		return 0, t.s.wrap("count admins", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	return n, t.s.wrap("count admins", rows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

// exists reports whether table has a row with the given id. table is
// always a literal from this package.
func (t *txStore) exists(ctx context.Context, table, id string) (bool, error) {
	var n int
	err := t.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&n)
	if err != nil {
		return false, t.s.wrap("check "+table, err)
	}
	return n > 0, nil
}

func (s *Store) affected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap(op, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
