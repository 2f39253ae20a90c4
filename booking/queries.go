package booking

import (
	"context"
	"strings"
	"time"

	"github.com/warp/roombook/core"
)

// =============================================================================
// READ SIDE
// =============================================================================

// Notification listing bounds.
const (
	DefaultNotificationLimit = 50
	MaxNotificationLimit     = 500
)

// ReservationQuery is the raw listing filter as it arrives from a client.
type ReservationQuery struct {
	Mine   bool
	From   string
	To     string
	Status string
	RoomID string
}

func (c *Coordinator) ListRooms(ctx context.Context) ([]core.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	rooms, err := c.store.ListRooms(ctx, true)
	return rooms, transient("list rooms", err)
}

// ListReservations returns reservations visible on the shared calendar.
func (c *Coordinator) ListReservations(ctx context.Context, caller core.Caller, q ReservationQuery) ([]core.Reservation, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	filter, err := c.parseQuery(q)
	if err != nil {
		return nil, err
	}
	if q.Mine {
		filter.OwnerID = &caller.ID
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	list, err := c.store.ListReservations(ctx, filter)
	return list, transient("list reservations", err)
}

// AdminReservations lists every reservation with owner labels.
func (c *Coordinator) AdminReservations(ctx context.Context, caller core.Caller, status string) ([]core.Reservation, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	filter, err := c.parseQuery(ReservationQuery{Status: status})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	list, err := c.store.ListReservations(ctx, filter)
	return list, transient("list reservations", err)
}

// PendingChanges lists open change requests, oldest first.
func (c *Coordinator) PendingChanges(ctx context.Context, caller core.Caller) ([]core.ReservationChange, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	list, err := c.store.ListPendingChanges(ctx)
	return list, transient("list pending changes", err)
}

// ListNotifications returns the caller's own events. Only admins may list
// everyone's.
func (c *Coordinator) ListNotifications(ctx context.Context, caller core.Caller, mine bool, limit int) ([]core.Notification, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if !mine && !caller.IsAdmin() {
		return nil, core.ErrForbidden
	}
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	if limit > MaxNotificationLimit {
		limit = MaxNotificationLimit
	}
	filter := core.NotificationFilter{Limit: limit}
	if mine {
		filter.OwnerID = &caller.ID
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	list, err := c.store.ListNotifications(ctx, filter)
	return list, transient("list notifications", err)
}

func (c *Coordinator) parseQuery(q ReservationQuery) (core.ReservationFilter, error) {
	var f core.ReservationFilter
	if q.From != "" {
		t, ok := c.parseBound(q.From)
		if !ok {
			return f, core.NewValidationError(core.RuleInvalidFormat, "Invalid date format")
		}
		f.From = &t
	}
	if q.To != "" {
		t, ok := c.parseBound(q.To)
		if !ok {
			return f, core.NewValidationError(core.RuleInvalidFormat, "Invalid date format")
		}
		f.To = &t
	}
	if q.Status != "" {
		s, err := ParseStatus(q.Status)
		if err != nil {
			return f, err
		}
		f.Statuses = []core.Status{s}
	}
	if q.RoomID != "" {
		room := core.RoomID(q.RoomID)
		f.RoomID = &room
	}
	return f, nil
}

// parseBound accepts a timestamp or a bare calendar date.
func (c *Coordinator) parseBound(value string) (time.Time, bool) {
	if t, ok := ParseTime(value, c.loc); ok {
		return t, true
	}
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(value), c.loc)
	return t, err == nil
}

// ParseStatus accepts one of the four reservation statuses.
func ParseStatus(value string) (core.Status, error) {
	s := core.Status(strings.ToLower(strings.TrimSpace(value)))
	switch s {
	case core.StatusPending, core.StatusApproved, core.StatusRejected, core.StatusCanceled:
		return s, nil
	}
	return "", core.NewValidationError(core.RuleInput, "Unknown status %q", value)
}
