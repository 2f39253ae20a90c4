/*
handlers.go - HTTP API handlers for the meeting room booking engine

PURPOSE:
  Exposes the admission engine via REST API. Handles HTTP request and
  response, JSON serialization, and delegates every decision to the
  booking and accounts packages.

ENDPOINTS:
  Reservations:
    GET    /api/reservations                    List (mine, from, to, status, room_id)
    POST   /api/reservations                    Create
    PATCH  /api/reservations/{id}               Modify or request a change
    DELETE /api/reservations/{id}               Cancel

  Read side:
    GET    /api/rooms                           Active rooms
    GET    /api/notifications                   Events (mine, limit)
    GET    /api/public/dashboard/weekly         Approved bookings of a week
    GET    /api/public/dashboard/monthly        Approved bookings of a month by day

  Admin:
    GET    /api/admin/reservations              All reservations with owner labels
    POST   /api/admin/reservations/{id}/approve Approve reservation or pending change
    POST   /api/admin/reservations/{id}/reject  Reject with reason
    GET    /api/admin/pending-changes           Oldest first
    GET    /api/admin/settings/reservation      Current policy
    PATCH  /api/admin/settings/reservation      Update policy
    GET    /api/admin/users                     List users (q, role, status)
    PATCH  /api/admin/users/{id}                Update user (admin floor)
    GET    /api/admin/dashboard/weekly          Week with status counts

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate request shape (validator tags)
  3. Call domain logic with the caller from the token
  4. Serialize response
  5. Map error kind to status (errors.go)

SEE ALSO:
  - dto.go:    Request/response data structures
  - errors.go: Error kind to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/roombook/accounts"
	"github.com/warp/roombook/auth"
	"github.com/warp/roombook/booking"
	"github.com/warp/roombook/core"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	booking  *booking.Coordinator
	accounts *accounts.Service
	health   Pinger
	view     formatter
}

// NewHandler creates a handler. health may be nil.
func NewHandler(b *booking.Coordinator, a *accounts.Service, health Pinger) *Handler {
	return &Handler{
		booking:  b,
		accounts: a,
		health:   health,
		view:     formatter{loc: b.Location()},
	}
}

func caller(r *http.Request) core.Caller {
	c, _ := auth.CallerFrom(r.Context())
	return c
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Health reports whether the store answers.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			w.Header().Set("Retry-After", retryAfterSeconds)
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// ListRooms returns active rooms.
// GET /api/rooms
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.booking.ListRooms(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	dtos := make([]RoomDTO, len(rooms))
	for i, room := range rooms {
		dtos[i] = h.view.room(room)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListReservations returns reservations matching the query filters.
// GET /api/reservations?mine=true&from=...&to=...&status=...&room_id=...
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.booking.ListReservations(r.Context(), caller(r), booking.ReservationQuery{
		Mine:   q.Get("mine") == "true",
		From:   q.Get("from"),
		To:     q.Get("to"),
		Status: q.Get("status"),
		RoomID: q.Get("room_id"),
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view.reservations(list))
}

// CreateReservation admits a new booking.
// POST /api/reservations
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}

	res, err := h.booking.Create(r.Context(), caller(r), booking.CreateRequest{
		RoomID:  core.RoomID(req.RoomID),
		StartAt: req.StartAt,
		EndAt:   req.EndAt,
		Title:   req.Title,
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view.reservation(res))
}

// ModifyReservation changes window or title. In approval mode a window
// change becomes a pending change request.
// PATCH /api/reservations/{id}
func (h *Handler) ModifyReservation(w http.ResponseWriter, r *http.Request) {
	var req ModifyReservationRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}

	id := core.ReservationID(chi.URLParam(r, "id"))
	result, err := h.booking.Modify(r.Context(), caller(r), id, booking.ModifyRequest{
		StartAt: req.StartAt,
		EndAt:   req.EndAt,
		Title:   req.Title,
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	if result.Change != nil {
		writeJSON(w, http.StatusOK, ModifyReservationResponse{
			Reservation:   h.view.reservation(result.Reservation),
			ChangeRequest: h.view.change(result.Change),
		})
		return
	}
	writeJSON(w, http.StatusOK, h.view.reservation(result.Reservation))
}

// CancelReservation cancels the caller's own reservation.
// DELETE /api/reservations/{id}
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := core.ReservationID(chi.URLParam(r, "id"))
	res, err := h.booking.Cancel(r.Context(), caller(r), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view.reservation(res))
}

// ListNotifications returns events, newest first.
// GET /api/notifications?mine=true&limit=20
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeFailure(w, r, core.NewValidationError(core.RuleInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	list, err := h.booking.ListNotifications(r.Context(), caller(r), q.Get("mine") == "true", limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	dtos := make([]NotificationDTO, len(list))
	for i, n := range list {
		dtos[i] = h.view.notification(n)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// AdminReservations lists every reservation with owner labels.
// GET /api/admin/reservations?status=pending
func (h *Handler) AdminReservations(w http.ResponseWriter, r *http.Request) {
	list, err := h.booking.AdminReservations(r.Context(), caller(r), r.URL.Query().Get("status"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view.reservations(list))
}

// PendingChanges lists change requests awaiting resolution.
// GET /api/admin/pending-changes
func (h *Handler) PendingChanges(w http.ResponseWriter, r *http.Request) {
	list, err := h.booking.PendingChanges(r.Context(), caller(r))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	dtos := make([]ChangeDTO, len(list))
	for i := range list {
		dtos[i] = h.view.change(&list[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveReservation approves a pending reservation or its pending change.
// POST /api/admin/reservations/{id}/approve
func (h *Handler) ApproveReservation(w http.ResponseWriter, r *http.Request) {
	id := core.ReservationID(chi.URLParam(r, "id"))
	if _, err := h.booking.Approve(r.Context(), caller(r), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// RejectReservation rejects a pending reservation or its pending change.
// POST /api/admin/reservations/{id}/reject
func (h *Handler) RejectReservation(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	id := core.ReservationID(chi.URLParam(r, "id"))
	if _, err := h.booking.Reject(r.Context(), caller(r), id, req.Reason); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// GetPolicy returns the current scheduling policy.
// GET /api/admin/settings/reservation
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.booking.GetPolicy(r.Context(), caller(r))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view.policy(p))
}

// UpdatePolicy applies a partial policy update.
// PATCH /api/admin/settings/reservation
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req UpdatePolicyRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	p, err := h.booking.SetPolicy(r.Context(), caller(r), req.patch())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view.policy(p))
}

// ListUsers returns users matching q, role and status.
// GET /api/admin/users?q=acme&role=admin&status=active
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := h.accounts.List(r.Context(), caller(r), accounts.Query{
		Q:      q.Get("q"),
		Role:   q.Get("role"),
		Status: q.Get("status"),
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = h.view.user(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateUser changes profile, role or status. The last active admin cannot
// be demoted or deactivated.
// PATCH /api/admin/users/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	id := core.UserID(chi.URLParam(r, "id"))
	u, err := h.accounts.Update(r.Context(), caller(r), id, req.patch())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view.user(*u))
}

// =============================================================================
// DASHBOARD HANDLERS
// =============================================================================

// PublicWeekly lists approved bookings of the week starting at week_start.
// GET /api/public/dashboard/weekly?week_start=2025-03-10
func (h *Handler) PublicWeekly(w http.ResponseWriter, r *http.Request) {
	d, err := h.booking.WeeklyDashboard(r.Context(), r.URL.Query().Get("week_start"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view.weekly(d))
}

// PublicMonthly groups approved bookings of month by day.
// GET /api/public/dashboard/monthly?month=2025-03
func (h *Handler) PublicMonthly(w http.ResponseWriter, r *http.Request) {
	d, err := h.booking.MonthlyDashboard(r.Context(), r.URL.Query().Get("month"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view.monthly(d))
}

// AdminWeekly lists every booking of the week with status counts.
// GET /api/admin/dashboard/weekly?week_start=2025-03-10
func (h *Handler) AdminWeekly(w http.ResponseWriter, r *http.Request) {
	d, err := h.booking.AdminWeeklyDashboard(r.Context(), caller(r), r.URL.Query().Get("week_start"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view.weekly(d))
}
