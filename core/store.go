/*
store.go - Persistence contract for rooms, reservations and their events

PURPOSE:
  Defines the interface between the admission engine and the database.
  Every state-changing operation runs inside WithTx: the policy snapshot,
  the conflict check, the transition and the notification rows all see
  and write the same transaction, so a concurrent writer can never slip
  between the check and the write.

KEY INTERFACES:
  Store: Read-side listings plus WithTx
  Tx:    Everything an admission transaction may read or write

EXCLUSION CONTRACT:
  Implementations must serialize transactions that touch the same room.
  LockRoom is called first in every booking transaction; stores that
  already serialize all writers (SQLite, memory) may treat it as a no-op,
  stores with row locks (MySQL) lock the room row.

IMPLEMENTATIONS:
  - core/store/memory.go:  In-memory, for tests and demos
  - store/sqlite:          mattn/go-sqlite3
  - store/mysql:           go-sql-driver/mysql

SEE ALSO:
  - booking/coordinator.go: The only writer
*/
package core

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// ReservationFilter narrows a reservation listing. Zero-valued fields match all.
type ReservationFilter struct {
	OwnerID *UserID
	RoomID  *RoomID
	From    *time.Time // start_at >= From
	To      *time.Time // end_at <= To

	// StartBefore keeps reservations with start_at < StartBefore.
	StartBefore *time.Time

	// Statuses matches on EffectiveStatus.
	Statuses []Status
}

// Matches reports whether r passes the filter. Stores that cannot express a
// predicate natively apply it in Go with this method.
func (f ReservationFilter) Matches(r *Reservation) bool {
	if f.OwnerID != nil && r.OwnerID != *f.OwnerID {
		return false
	}
	if f.RoomID != nil && r.RoomID != *f.RoomID {
		return false
	}
	if f.From != nil && r.Window.Start.Before(*f.From) {
		return false
	}
	if f.To != nil && r.Window.End.After(*f.To) {
		return false
	}
	if f.StartBefore != nil && !r.Window.Start.Before(*f.StartBefore) {
		return false
	}
	if len(f.Statuses) > 0 {
		eff := r.EffectiveStatus()
		for _, s := range f.Statuses {
			if s == eff {
				return true
			}
		}
		return false
	}
	return true
}

// OverlapQuery selects blocking reservations in RoomID that overlap Window.
type OverlapQuery struct {
	RoomID    RoomID
	Window    TimeRange
	ExcludeID *ReservationID
}

// NotificationFilter narrows a notification listing, newest first.
type NotificationFilter struct {
	OwnerID *UserID // owner of the reservation the event belongs to
	Limit   int     // 0 means no limit
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// ListRooms returns rooms ordered by name.
	ListRooms(ctx context.Context, activeOnly bool) ([]Room, error)

	// ListReservations returns matches ordered by start_at, with owner
	// decoration and PendingChange filled.
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)

	// GetReservation is the non-transactional read of one reservation.
	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)

	// ListPendingChanges returns pending changes oldest first.
	ListPendingChanges(ctx context.Context) ([]ReservationChange, error)

	ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error)

	GetPolicy(ctx context.Context) (PolicyConfig, error)

	ListUsers(ctx context.Context) ([]User, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// OverlapFinder is the read the conflict detector needs.
type OverlapFinder interface {
	FindOverlapping(ctx context.Context, q OverlapQuery) ([]Reservation, error)
}

// Tx is the transactional view of the store.
type Tx interface {
	OverlapFinder

	// LockRoom blocks other transactions on the same room until commit.
	LockRoom(ctx context.Context, id RoomID) error

	// GetRoom returns ErrNotFound for unknown rooms.
	GetRoom(ctx context.Context, id RoomID) (*Room, error)
	SaveRoom(ctx context.Context, room Room) error

	GetPolicy(ctx context.Context) (PolicyConfig, error)
	SavePolicy(ctx context.Context, p PolicyConfig) error

	// GetReservation returns ErrNotFound for unknown ids. PendingChange is
	// filled when a pending change exists.
	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)
	InsertReservation(ctx context.Context, r *Reservation) error
	UpdateReservation(ctx context.Context, r *Reservation) error

	InsertChange(ctx context.Context, c *ReservationChange) error
	UpdateChange(ctx context.Context, c *ReservationChange) error

	AppendNotification(ctx context.Context, n Notification) error

	// GetUser returns ErrNotFound for unknown ids.
	GetUser(ctx context.Context, id UserID) (*User, error)
	SaveUser(ctx context.Context, u User) error
	CountActiveAdmins(ctx context.Context) (int, error)
}
