// Package store provides the in-memory core.Store implementation.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/roombook/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds one global mutex for the whole of WithTx, so transactions
// are fully serialized. Rollback restores a snapshot taken at begin.
type Memory struct {
	mu sync.RWMutex
	state
}

type state struct {
	rooms         map[core.RoomID]core.Room
	reservations  map[core.ReservationID]core.Reservation
	changes       map[core.ChangeID]core.ReservationChange
	notifications []core.Notification
	users         map[core.UserID]core.User
	policy        core.PolicyConfig
}

func NewMemory() *Memory {
	return &Memory{state: state{
		rooms:        make(map[core.RoomID]core.Room),
		reservations: make(map[core.ReservationID]core.Reservation),
		changes:      make(map[core.ChangeID]core.ReservationChange),
		users:        make(map[core.UserID]core.User),
		policy:       core.DefaultPolicy(),
	}}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(core.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return &core.TransientError{Op: "memory: begin", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{m: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) ListRooms(_ context.Context, activeOnly bool) ([]core.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []core.Room
	for _, r := range m.rooms {
		if activeOnly && !r.Active {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) ListReservations(_ context.Context, filter core.ReservationFilter) ([]core.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []core.Reservation
	for id := range m.reservations {
		r := m.reservationLocked(id)
		if filter.Matches(r) {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Window.Start.Equal(result[j].Window.Start) {
			return result[i].ID < result[j].ID
		}
		return result[i].Window.Start.Before(result[j].Window.Start)
	})
	return result, nil
}

func (m *Memory) GetReservation(_ context.Context, id core.ReservationID) (*core.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := m.reservationLocked(id)
	if r == nil {
		return nil, core.ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListPendingChanges(_ context.Context) ([]core.ReservationChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []core.ReservationChange
	for _, c := range m.changes {
		if c.Status != core.ChangePending {
			continue
		}
		c := c
		if r, ok := m.reservations[c.ReservationID]; ok {
			c.Title = cloneString(r.Title)
			if u, ok := m.users[r.OwnerID]; ok {
				c.OwnerName, c.OwnerCompany = u.Name, u.CompanyName
			}
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) ListNotifications(_ context.Context, filter core.NotificationFilter) ([]core.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []core.Notification
	// newest first: notifications are appended in commit order
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if filter.OwnerID != nil {
			r, ok := m.reservations[n.ReservationID]
			if !ok || r.OwnerID != *filter.OwnerID {
				continue
			}
		}
		result = append(result, n)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) GetPolicy(_ context.Context) (core.PolicyConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]core.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]core.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Email < result[j].Email })
	return result, nil
}

// reservationLocked returns a decorated copy. Caller holds mu.
func (m *Memory) reservationLocked(id core.ReservationID) *core.Reservation {
	r, ok := m.reservations[id]
	if !ok {
		return nil
	}
	r.Title = cloneString(r.Title)
	if u, ok := m.users[r.OwnerID]; ok {
		r.OwnerName, r.OwnerCompany = u.Name, u.CompanyName
	}
	for _, c := range m.changes {
		if c.ReservationID == id && c.Status == core.ChangePending {
			c := c
			r.PendingChange = &c
			break
		}
	}
	return &r
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView operates on Memory while the WithTx caller holds the write lock.
type txView struct {
	m *Memory
}

// LockRoom is a no-op: WithTx already excludes every other transaction.
func (tv *txView) LockRoom(context.Context, core.RoomID) error { return nil }

func (tv *txView) GetRoom(_ context.Context, id core.RoomID) (*core.Room, error) {
	r, ok := tv.m.rooms[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &r, nil
}

func (tv *txView) SaveRoom(_ context.Context, room core.Room) error {
	tv.m.rooms[room.ID] = room
	return nil
}

func (tv *txView) GetPolicy(context.Context) (core.PolicyConfig, error) {
	return tv.m.policy, nil
}

func (tv *txView) SavePolicy(_ context.Context, p core.PolicyConfig) error {
	tv.m.policy = p
	return nil
}

func (tv *txView) GetReservation(_ context.Context, id core.ReservationID) (*core.Reservation, error) {
	r := tv.m.reservationLocked(id)
	if r == nil {
		return nil, core.ErrNotFound
	}
	return r, nil
}

func (tv *txView) FindOverlapping(_ context.Context, q core.OverlapQuery) ([]core.Reservation, error) {
	var result []core.Reservation
	for id, r := range tv.m.reservations {
		if r.RoomID != q.RoomID || !r.Status.Blocking() {
			continue
		}
		if q.ExcludeID != nil && id == *q.ExcludeID {
			continue
		}
		if core.Overlaps(r.Window, q.Window) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Window.Start.Before(result[j].Window.Start) })
	return result, nil
}

func (tv *txView) InsertReservation(_ context.Context, r *core.Reservation) error {
	if _, exists := tv.m.reservations[r.ID]; exists {
		return core.ErrInvalidTransition
	}
	tv.m.reservations[r.ID] = storedReservation(r)
	return nil
}

func (tv *txView) UpdateReservation(_ context.Context, r *core.Reservation) error {
	if _, exists := tv.m.reservations[r.ID]; !exists {
		return core.ErrNotFound
	}
	tv.m.reservations[r.ID] = storedReservation(r)
	return nil
}

func (tv *txView) InsertChange(_ context.Context, c *core.ReservationChange) error {
	for _, existing := range tv.m.changes {
		if existing.ReservationID == c.ReservationID && existing.Status == core.ChangePending {
			return core.ErrChangePending
		}
	}
	tv.m.changes[c.ID] = storedChange(c)
	return nil
}

func (tv *txView) UpdateChange(_ context.Context, c *core.ReservationChange) error {
	if _, exists := tv.m.changes[c.ID]; !exists {
		return core.ErrNotFound
	}
	tv.m.changes[c.ID] = storedChange(c)
	return nil
}

func (tv *txView) AppendNotification(_ context.Context, n core.Notification) error {
	tv.m.notifications = append(tv.m.notifications, n)
	return nil
}

func (tv *txView) GetUser(_ context.Context, id core.UserID) (*core.User, error) {
	u, ok := tv.m.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &u, nil
}

func (tv *txView) SaveUser(_ context.Context, u core.User) error {
	tv.m.users[u.ID] = u
	return nil
}

func (tv *txView) CountActiveAdmins(context.Context) (int, error) {
	n := 0
	for _, u := range tv.m.users {
		if u.ActiveAdmin() {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s state) clone() state {
	c := state{
		rooms:         make(map[core.RoomID]core.Room, len(s.rooms)),
		reservations:  make(map[core.ReservationID]core.Reservation, len(s.reservations)),
		changes:       make(map[core.ChangeID]core.ReservationChange, len(s.changes)),
		notifications: append([]core.Notification(nil), s.notifications...),
		users:         make(map[core.UserID]core.User, len(s.users)),
		policy:        s.policy,
	}
	for k, v := range s.rooms {
		c.rooms[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.changes {
		c.changes[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

// storedReservation strips read-side decoration before storing.
func storedReservation(r *core.Reservation) core.Reservation {
	v := *r
	v.Title = cloneString(r.Title)
	v.PendingChange = nil
	v.OwnerName, v.OwnerCompany = "", ""
	return v
}

func storedChange(c *core.ReservationChange) core.ReservationChange {
	v := *c
	v.RejectReason = cloneString(c.RejectReason)
	v.Title = nil
	v.OwnerName, v.OwnerCompany = "", ""
	return v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
