/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the core model from the wire contract: snake_case field names, times as
  RFC3339 strings in the configured zone, derived status instead of the
  committed one.

NAMING CONVENTION:
  - *DTO:      Response types returned to clients
  - *Request:  Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Reservations:
    ReservationDTO, ChangeDTO, CreateReservationRequest,
    ModifyReservationRequest, ModifyReservationResponse, RejectRequest

  Admin:
    PolicyDTO, UpdatePolicyRequest, UserDTO, UpdateUserRequest

  Dashboards:
    WeeklyDashboardDTO, MonthlyDashboardDTO, DashboardItemDTO

VALIDATION:
  Request bodies carry validator/v10 tags for shape checks (oneof,
  lengths, email). Time windows are checked by the booking package, so
  the first broken scheduling rule is what the client sees.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/roombook/accounts"
	"github.com/warp/roombook/booking"
	"github.com/warp/roombook/core"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateReservationRequest is the body of POST /api/reservations. Missing
// fields are reported by booking.Create.
type CreateReservationRequest struct {
	RoomID  string  `json:"room_id" validate:"max=64"`
	StartAt string  `json:"start_at" validate:"max=40"`
	EndAt   string  `json:"end_at" validate:"max=40"`
	Title   *string `json:"title" validate:"omitempty,max=200"`
}

// ModifyReservationRequest is the body of PATCH /api/reservations/{id}.
type ModifyReservationRequest struct {
	StartAt *string `json:"start_at"`
	EndAt   *string `json:"end_at"`
	Title   *string `json:"title" validate:"omitempty,max=200"`
}

// RejectRequest is the body of the admin reject endpoint.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// UpdatePolicyRequest leaves omitted fields unchanged.
type UpdatePolicyRequest struct {
	ApprovalMode       *bool   `json:"approval_mode"`
	SlotMinutes        *int    `json:"slot_minutes" validate:"omitempty,min=1,max=1440"`
	MaxDurationMinutes *int    `json:"max_duration_minutes" validate:"omitempty,min=1"`
	OpenTime           *string `json:"open_time" validate:"omitempty,len=5"`
	CloseTime          *string `json:"close_time" validate:"omitempty,len=5"`
}

// UpdateUserRequest is the body of PATCH /api/admin/users/{id}.
type UpdateUserRequest struct {
	Email       *string `json:"email" validate:"omitempty,email"`
	Name        *string `json:"name" validate:"omitempty,max=100"`
	CompanyName *string `json:"company_name" validate:"omitempty,max=100"`
	Role        *string `json:"role" validate:"omitempty,oneof=admin user"`
	Status      *string `json:"status" validate:"omitempty,oneof=active inactive"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Rule    string `json:"rule,omitempty"`
	Details string `json:"details,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type RoomDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// ReservationDTO shows the effective status; the committed one is only
// visible through PendingChange.
type ReservationDTO struct {
	ID            string     `json:"id"`
	RoomID        string     `json:"room_id"`
	UserID        string     `json:"user_id"`
	Title         *string    `json:"title"`
	StartAt       string     `json:"start_at"`
	EndAt         string     `json:"end_at"`
	Status        string     `json:"status"`
	Name          string     `json:"name,omitempty"`
	CompanyName   string     `json:"company_name,omitempty"`
	PendingChange *ChangeDTO `json:"pending_change,omitempty"`
	CreatedAt     string     `json:"created_at"`
	UpdatedAt     string     `json:"updated_at"`
}

type ChangeDTO struct {
	ID            string  `json:"id"`
	ReservationID string  `json:"reservation_id"`
	RequestedBy   string  `json:"requested_by"`
	OldStartAt    string  `json:"old_start_at"`
	OldEndAt      string  `json:"old_end_at"`
	NewStartAt    string  `json:"new_start_at"`
	NewEndAt      string  `json:"new_end_at"`
	Status        string  `json:"status"`
	RejectReason  *string `json:"reject_reason,omitempty"`
	Name          string  `json:"name,omitempty"`
	CompanyName   string  `json:"company_name,omitempty"`
	Title         *string `json:"title,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// ModifyReservationResponse is returned when approval mode turned a modify
// into a change request.
type ModifyReservationResponse struct {
	Reservation   ReservationDTO `json:"reservation"`
	ChangeRequest ChangeDTO      `json:"change_request"`
}

type NotificationDTO struct {
	ID            string                   `json:"id"`
	ReservationID string                   `json:"reservation_id"`
	Type          string                   `json:"type"`
	Payload       core.NotificationPayload `json:"payload"`
	CreatedAt     string                   `json:"created_at"`
}

type PolicyDTO struct {
	ApprovalMode       bool    `json:"approval_mode"`
	SlotMinutes        int     `json:"slot_minutes"`
	MaxDurationMinutes int     `json:"max_duration_minutes"`
	OpenTime           string  `json:"open_time"`
	CloseTime          string  `json:"close_time"`
	UpdatedAt          *string `json:"updated_at,omitempty"`
	UpdatedBy          string  `json:"updated_by,omitempty"`
}

type UserDTO struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	CompanyName string `json:"company_name"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at,omitempty"`
}

type DashboardItemDTO struct {
	ReservationID   string `json:"reservation_id"`
	RoomID          string `json:"room_id"`
	UserID          string `json:"user_id"`
	CompanyName     string `json:"company_name"`
	StartAt         string `json:"start_at"`
	EndAt           string `json:"end_at"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status,omitempty"`
}

type WeeklyDashboardDTO struct {
	WeekStart    string             `json:"week_start"`
	WeekEnd      string             `json:"week_end"`
	Reservations []DashboardItemDTO `json:"reservations"`
	TotalHours   decimal.Decimal    `json:"total_hours"`
	Counts       map[string]int     `json:"counts,omitempty"`
}

type DayTotalDTO struct {
	Date         string             `json:"date"`
	TotalMinutes int                `json:"total_minutes"`
	TotalHours   decimal.Decimal    `json:"total_hours"`
	Items        []DashboardItemDTO `json:"items"`
}

type MonthlyDashboardDTO struct {
	Month      string          `json:"month"`
	Days       []DayTotalDTO   `json:"days"`
	TotalHours decimal.Decimal `json:"total_hours"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// formatter renders times in the zone the engine was configured with.
type formatter struct {
	loc *time.Location
}

func (f formatter) time(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(f.loc).Format(time.RFC3339)
}

func (f formatter) room(r core.Room) RoomDTO {
	return RoomDTO{ID: string(r.ID), Name: r.Name, Active: r.Active}
}

func (f formatter) reservation(r *core.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:          string(r.ID),
		RoomID:      string(r.RoomID),
		UserID:      string(r.OwnerID),
		Title:       r.Title,
		StartAt:     f.time(r.Window.Start),
		EndAt:       f.time(r.Window.End),
		Status:      string(r.EffectiveStatus()),
		Name:        r.OwnerName,
		CompanyName: r.OwnerCompany,
		CreatedAt:   f.time(r.CreatedAt),
		UpdatedAt:   f.time(r.UpdatedAt),
	}
	if r.HasPendingChange() {
		c := f.change(r.PendingChange)
		dto.PendingChange = &c
	}
	return dto
}

func (f formatter) reservations(list []core.Reservation) []ReservationDTO {
	out := make([]ReservationDTO, len(list))
	for i := range list {
		out[i] = f.reservation(&list[i])
	}
	return out
}

func (f formatter) change(c *core.ReservationChange) ChangeDTO {
	return ChangeDTO{
		ID:            string(c.ID),
		ReservationID: string(c.ReservationID),
		RequestedBy:   string(c.RequestedBy),
		OldStartAt:    f.time(c.Old.Start),
		OldEndAt:      f.time(c.Old.End),
		NewStartAt:    f.time(c.New.Start),
		NewEndAt:      f.time(c.New.End),
		Status:        string(c.Status),
		RejectReason:  c.RejectReason,
		Name:          c.OwnerName,
		CompanyName:   c.OwnerCompany,
		Title:         c.Title,
		CreatedAt:     f.time(c.CreatedAt),
	}
}

func (f formatter) notification(n core.Notification) NotificationDTO {
	return NotificationDTO{
		ID:            string(n.ID),
		ReservationID: string(n.ReservationID),
		Type:          string(n.Type),
		Payload:       n.Payload,
		CreatedAt:     f.time(n.CreatedAt),
	}
}

func (f formatter) policy(p core.PolicyConfig) PolicyDTO {
	dto := PolicyDTO{
		ApprovalMode:       p.ApprovalMode,
		SlotMinutes:        p.SlotMinutes,
		MaxDurationMinutes: p.MaxDurationMinutes,
		OpenTime:           p.OpenTime,
		CloseTime:          p.CloseTime,
		UpdatedBy:          string(p.UpdatedBy),
	}
	if !p.UpdatedAt.IsZero() {
		s := f.time(p.UpdatedAt)
		dto.UpdatedAt = &s
	}
	return dto
}

func (f formatter) user(u core.User) UserDTO {
	return UserDTO{
		ID:          string(u.ID),
		Email:       u.Email,
		Name:        u.Name,
		CompanyName: u.CompanyName,
		Role:        string(u.Role),
		Status:      string(u.Status),
		CreatedAt:   f.time(u.CreatedAt),
	}
}

func (f formatter) items(list []booking.DashboardItem, withStatus bool) []DashboardItemDTO {
	out := make([]DashboardItemDTO, len(list))
	for i, it := range list {
		out[i] = DashboardItemDTO{
			ReservationID:   string(it.ReservationID),
			RoomID:          string(it.RoomID),
			UserID:          string(it.UserID),
			CompanyName:     it.CompanyName,
			StartAt:         f.time(it.Window.Start),
			EndAt:           f.time(it.Window.End),
			DurationMinutes: it.DurationMinutes,
		}
		if withStatus {
			out[i].Status = string(it.Status)
		}
	}
	return out
}

func (f formatter) weekly(d *booking.WeeklyDashboard) WeeklyDashboardDTO {
	dto := WeeklyDashboardDTO{
		WeekStart:    d.WeekStart.In(f.loc).Format(time.DateOnly),
		WeekEnd:      d.WeekEnd.In(f.loc).Format(time.DateOnly),
		Reservations: f.items(d.Reservations, d.Counts != nil),
		TotalHours:   d.TotalHours,
	}
	if d.Counts != nil {
		dto.Counts = make(map[string]int, len(d.Counts))
		for status, n := range d.Counts {
			dto.Counts[string(status)] = n
		}
	}
	return dto
}

func (f formatter) monthly(d *booking.MonthlyDashboard) MonthlyDashboardDTO {
	dto := MonthlyDashboardDTO{
		Month:      d.Month,
		Days:       make([]DayTotalDTO, len(d.Days)),
		TotalHours: d.TotalHours,
	}
	for i, day := range d.Days {
		dto.Days[i] = DayTotalDTO{
			Date:         day.Date,
			TotalMinutes: day.TotalMinutes,
			TotalHours:   day.TotalHours,
			Items:        f.items(day.Items, false),
		}
	}
	return dto
}

// =============================================================================
// REQUEST MAPPING
// =============================================================================

func (r UpdatePolicyRequest) patch() core.PolicyPatch {
	return core.PolicyPatch{
		ApprovalMode:       r.ApprovalMode,
		SlotMinutes:        r.SlotMinutes,
		MaxDurationMinutes: r.MaxDurationMinutes,
		OpenTime:           r.OpenTime,
		CloseTime:          r.CloseTime,
	}
}

func (r UpdateUserRequest) patch() accounts.Patch {
	p := accounts.Patch{Email: r.Email, Name: r.Name, CompanyName: r.CompanyName}
	if r.Role != nil {
		role := core.Role(*r.Role)
		p.Role = &role
	}
	if r.Status != nil {
		status := core.UserStatus(*r.Status)
		p.Status = &status
	}
	return p
}
