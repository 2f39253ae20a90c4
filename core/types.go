/*
Package core provides the data model shared by every roombook package.

PURPOSE:
  Rooms, reservations, change requests, notifications, users and the
  scheduling policy live here, together with the error taxonomy and the
  store contract. The admission logic that moves these records between
  states lives in package booking; persistence lives in store/*.

KEY CONCEPTS IN THIS FILE (types.go):
  - Room:              A bookable resource (only active rooms accept bookings)
  - Reservation:       A committed booking of a room for [StartAt, EndAt)
  - ReservationChange: A proposed new window for an existing reservation
  - Notification:      Append-only audit event emitted by each transition
  - Caller:            The authenticated identity performing an operation

STATUS COUPLING:
  A reservation with a pending change is *shown* as pending. The stored
  Status is never overwritten for that; EffectiveStatus() derives it from
  the PendingChange reference so there is exactly one place that decides.

SEE ALSO:
  - interval.go: Half-open time ranges and the overlap predicate
  - policy.go:   PolicyConfig snapshot
  - store.go:    Persistence contract
*/
package core

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RoomID string
type ReservationID string
type ChangeID string
type UserID string
type NotificationID string

// =============================================================================
// ROOM
// =============================================================================

type Room struct {
	ID     RoomID
	Name   string
	Active bool
}

// =============================================================================
// RESERVATION
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusCanceled Status = "canceled"
)

// Blocking reports whether a reservation in this status occupies its slot.
func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusApproved
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCanceled
}

// BlockingStatuses are the statuses considered by conflict detection.
var BlockingStatuses = []Status{StatusApproved, StatusPending}

type Reservation struct {
	ID      ReservationID
	RoomID  RoomID
	OwnerID UserID
	Title   *string
	Window  TimeRange

	// Committed status. See EffectiveStatus for what callers should display.
	Status Status

	// PendingChange is set when a change request awaits admin resolution.
	PendingChange *ReservationChange

	// Read-only decoration filled by list queries (owner join).
	OwnerName    string
	OwnerCompany string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveStatus is the status the reservation presents while a change
// request is outstanding: always pending, whatever was committed before.
func (r *Reservation) EffectiveStatus() Status {
	if r.PendingChange != nil && r.PendingChange.Status == ChangePending {
		return StatusPending
	}
	return r.Status
}

// HasPendingChange reports whether a change request awaits resolution.
func (r *Reservation) HasPendingChange() bool {
	return r.PendingChange != nil && r.PendingChange.Status == ChangePending
}

// =============================================================================
// RESERVATION CHANGE
// =============================================================================

type ChangeStatus string

const (
	ChangePending  ChangeStatus = "pending"
	ChangeApproved ChangeStatus = "approved"
	ChangeRejected ChangeStatus = "rejected"
)

type ReservationChange struct {
	ID            ChangeID
	ReservationID ReservationID
	RequestedBy   UserID
	Old           TimeRange
	New           TimeRange
	Status        ChangeStatus
	RejectReason  *string

	// Decoration for the admin pending-changes listing.
	OwnerName    string
	OwnerCompany string
	Title        *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// NOTIFICATION
// =============================================================================

type EventType string

const (
	EventCreated         EventType = "created"
	EventUpdated         EventType = "updated"
	EventCanceled        EventType = "canceled"
	EventApproved        EventType = "approved"
	EventRejected        EventType = "rejected"
	EventChangeRequested EventType = "change_requested"
)

// NotificationPayload is persisted as JSON.
type NotificationPayload struct {
	CompanyName string    `json:"company_name"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Reason      string    `json:"reason,omitempty"`
	Pending     bool      `json:"pending,omitempty"`
}

type Notification struct {
	ID            NotificationID
	ReservationID ReservationID
	Type          EventType
	Payload       NotificationPayload
	CreatedAt     time.Time
}

// Recipient is who a delivered notification is addressed to.
type Recipient struct {
	UserID  UserID
	Email   string
	Name    string
	Company string
}

// Envelope pairs a committed notification with its addressee. It is what
// crosses the commit boundary to the delivery side.
type Envelope struct {
	Notification Notification
	Recipient    Recipient
}

// =============================================================================
// USERS AND CALLERS
// =============================================================================

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

type User struct {
	ID          UserID
	Email       string
	Name        string
	CompanyName string
	Role        Role
	Status      UserStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActiveAdmin reports whether the user counts toward the admin floor.
func (u *User) ActiveAdmin() bool {
	return u.Role == RoleAdmin && u.Status == UserActive
}

// Caller is the identity yielded by the identity provider.
type Caller struct {
	ID      UserID
	Role    Role
	Email   string
	Company string
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }
