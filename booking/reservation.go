package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/roombook/core"
)

// =============================================================================
// COMMANDS
// =============================================================================

// CreateRequest carries raw timestamps; parsing is part of validation.
type CreateRequest struct {
	RoomID  core.RoomID
	StartAt string
	EndAt   string
	Title   *string
}

// ModifyRequest leaves a field untouched when it is nil.
type ModifyRequest struct {
	StartAt *string
	EndAt   *string
	Title   *string
}

// ModifyResult carries the change request when approval mode created one.
type ModifyResult struct {
	Reservation *core.Reservation
	Change      *core.ReservationChange
}

// =============================================================================
// CREATE
// =============================================================================

// Create admits a new reservation: pending in approval mode, otherwise approved.
func (c *Coordinator) Create(ctx context.Context, caller core.Caller, req CreateRequest) (*core.Reservation, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if req.RoomID == "" || strings.TrimSpace(req.StartAt) == "" || strings.TrimSpace(req.EndAt) == "" {
		return nil, core.NewValidationError(core.RuleInput, "room_id, start_at, end_at required")
	}

	var created *core.Reservation
	err := c.run(ctx, "create", caller, req.RoomID, func(ctx context.Context, u *unit) error {
		room, err := u.tx.GetRoom(ctx, req.RoomID)
		if err != nil {
			if core.IsNotFound(err) {
				return &core.NotFoundError{Kind: "Room", ID: string(req.RoomID)}
			}
			return fmt.Errorf("load room: %w", err)
		}
		if !room.Active {
			return core.NewValidationError(core.RuleRoomInactive, "Room is not available")
		}

		window, err := Validate(req.StartAt, req.EndAt, u.policy, c.loc)
		if err != nil {
			return err
		}
		if err := CheckConflict(ctx, u.tx, room.ID, window, nil); err != nil {
			return err
		}

		status := core.StatusApproved
		if u.policy.ApprovalMode {
			status = core.StatusPending
		}
		r := &core.Reservation{
			ID:        core.ReservationID(c.newID()),
			RoomID:    room.ID,
			OwnerID:   caller.ID,
			Title:     normalizeTitle(req.Title),
			Window:    window,
			Status:    status,
			CreatedAt: u.now,
			UpdatedAt: u.now,
		}
		if err := u.tx.InsertReservation(ctx, r); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		if err := u.emit(ctx, r, core.EventCreated, payloadFor(window, caller.Company)); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// =============================================================================
// MODIFY
// =============================================================================

// Modify changes the window and/or title of the caller's reservation.
//
// Outside approval mode a window change is applied directly. In approval
// mode it becomes a pending change request and the reservation presents as
// pending until an admin resolves it. A title-only edit is always applied
// in place.
func (c *Coordinator) Modify(ctx context.Context, caller core.Caller, id core.ReservationID, req ModifyRequest) (*ModifyResult, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	room, err := c.roomOf(ctx, id)
	if err != nil {
		return nil, err
	}

	var result *ModifyResult
	err = c.run(ctx, "modify", caller, room, func(ctx context.Context, u *unit) error {
		r, err := u.tx.GetReservation(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				return notFound(id)
			}
			return fmt.Errorf("load reservation: %w", err)
		}
		if r.OwnerID != caller.ID {
			return notFound(id)
		}
		if r.Status.Terminal() {
			return fmt.Errorf("modify %s reservation: %w", r.Status, core.ErrInvalidTransition)
		}

		next, err := c.nextWindow(r.Window, req)
		if err != nil {
			return err
		}
		windowChanged := !next.Equal(r.Window)
		title := r.Title
		if req.Title != nil {
			title = normalizeTitle(req.Title)
		}

		if !windowChanged {
			if req.Title == nil {
				result = &ModifyResult{Reservation: r}
				return nil
			}
			r.Title, r.UpdatedAt = title, u.now
			if err := u.tx.UpdateReservation(ctx, r); err != nil {
				return fmt.Errorf("update reservation: %w", err)
			}
			if err := u.emit(ctx, r, core.EventUpdated, payloadFor(r.Window, "")); err != nil {
				return err
			}
			result = &ModifyResult{Reservation: r}
			return nil
		}

		if r.HasPendingChange() {
			return core.ErrChangePending
		}
		if err := ValidateWindow(next, u.policy, c.loc); err != nil {
			return err
		}
		if err := CheckConflict(ctx, u.tx, r.RoomID, next, &r.ID); err != nil {
			return err
		}

		if u.policy.ApprovalMode {
			change, err := c.requestChange(ctx, u, r, next, title)
			if err != nil {
				return err
			}
			result = &ModifyResult{Reservation: r, Change: change}
			return nil
		}

		r.Window, r.Title, r.UpdatedAt = next, title, u.now
		if err := u.tx.UpdateReservation(ctx, r); err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		if err := u.emit(ctx, r, core.EventUpdated, payloadFor(next, "")); err != nil {
			return err
		}
		result = &ModifyResult{Reservation: r}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// nextWindow merges the request over the current window.
func (c *Coordinator) nextWindow(current core.TimeRange, req ModifyRequest) (core.TimeRange, error) {
	next := current
	if req.StartAt != nil {
		t, ok := ParseTime(*req.StartAt, c.loc)
		if !ok {
			return core.TimeRange{}, core.NewValidationError(core.RuleInvalidFormat, "Invalid date format")
		}
		next.Start = t
	}
	if req.EndAt != nil {
		t, ok := ParseTime(*req.EndAt, c.loc)
		if !ok {
			return core.TimeRange{}, core.NewValidationError(core.RuleInvalidFormat, "Invalid date format")
		}
		next.End = t
	}
	return next, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel moves the caller's non-terminal reservation to canceled. A pending
// change on it is rejected in the same transaction.
func (c *Coordinator) Cancel(ctx context.Context, caller core.Caller, id core.ReservationID) (*core.Reservation, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	room, err := c.roomOf(ctx, id)
	if err != nil {
		return nil, err
	}

	var canceled *core.Reservation
	err = c.run(ctx, "cancel", caller, room, func(ctx context.Context, u *unit) error {
		r, err := u.tx.GetReservation(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				return notFound(id)
			}
			return fmt.Errorf("load reservation: %w", err)
		}
		if r.OwnerID != caller.ID || r.Status.Terminal() {
			return notFound(id)
		}

		if r.HasPendingChange() {
			ch := r.PendingChange
			reason := CancelReason
			ch.Status, ch.RejectReason, ch.UpdatedAt = core.ChangeRejected, &reason, u.now
			if err := u.tx.UpdateChange(ctx, ch); err != nil {
				return fmt.Errorf("update change: %w", err)
			}
			r.PendingChange = nil
		}

		r.Status, r.UpdatedAt = core.StatusCanceled, u.now
		if err := u.tx.UpdateReservation(ctx, r); err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		if err := u.emit(ctx, r, core.EventCanceled, payloadFor(r.Window, "")); err != nil {
			return err
		}
		canceled = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return canceled, nil
}

// CancelReason is recorded on a change request closed by cancellation.
const CancelReason = "reservation canceled"

func normalizeTitle(title *string) *string {
	if title == nil {
		return nil
	}
	t := strings.TrimSpace(*title)
	if t == "" {
		return nil
	}
	return &t
}
