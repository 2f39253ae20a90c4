package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/roombook/core"
)

// =============================================================================
// CHANGE REQUEST WORKFLOW
// =============================================================================

// requestChange records a pending change for r. The caller has already
// validated next and checked it for conflicts excluding r itself.
func (c *Coordinator) requestChange(ctx context.Context, u *unit, r *core.Reservation, next core.TimeRange, title *string) (*core.ReservationChange, error) {
	change := &core.ReservationChange{
		ID:            core.ChangeID(c.newID()),
		ReservationID: r.ID,
		RequestedBy:   u.caller.ID,
		Old:           r.Window,
		New:           next,
		Status:        core.ChangePending,
		CreatedAt:     u.now,
		UpdatedAt:     u.now,
	}
	if err := u.tx.InsertChange(ctx, change); err != nil {
		return nil, fmt.Errorf("insert change: %w", err)
	}

	// committed status and window stay; the pending change drives the view
	r.Title, r.UpdatedAt = title, u.now
	if err := u.tx.UpdateReservation(ctx, r); err != nil {
		return nil, fmt.Errorf("update reservation: %w", err)
	}
	r.PendingChange = change

	payload := payloadFor(next, "")
	payload.Pending = true
	if err := u.emit(ctx, r, core.EventChangeRequested, payload); err != nil {
		return nil, err
	}
	return change, nil
}

// =============================================================================
// APPROVE
// =============================================================================

// Approve resolves the pending change if there is one, otherwise moves a
// pending reservation to approved.
//
// The new window of a change is checked for conflicts again here: another
// booking may have taken it since the request. On conflict nothing changes
// and the change stays pending.
func (c *Coordinator) Approve(ctx context.Context, caller core.Caller, id core.ReservationID) (*core.Reservation, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	room, err := c.roomOf(ctx, id)
	if err != nil {
		return nil, err
	}

	var approved *core.Reservation
	err = c.run(ctx, "approve", caller, room, func(ctx context.Context, u *unit) error {
		r, err := u.tx.GetReservation(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				return notFound(id)
			}
			return fmt.Errorf("load reservation: %w", err)
		}

		switch {
		case r.HasPendingChange():
			ch := r.PendingChange
			if err := CheckConflict(ctx, u.tx, r.RoomID, ch.New, &r.ID); err != nil {
				return err
			}
			ch.Status, ch.UpdatedAt = core.ChangeApproved, u.now
			if err := u.tx.UpdateChange(ctx, ch); err != nil {
				return fmt.Errorf("update change: %w", err)
			}
			r.Window = ch.New
			r.PendingChange = nil
		case r.Status == core.StatusPending:
		default:
			return fmt.Errorf("approve %s reservation: %w", r.Status, core.ErrInvalidTransition)
		}

		r.Status, r.UpdatedAt = core.StatusApproved, u.now
		if err := u.tx.UpdateReservation(ctx, r); err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		if err := u.emit(ctx, r, core.EventApproved, payloadFor(r.Window, "")); err != nil {
			return err
		}
		approved = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// =============================================================================
// REJECT
// =============================================================================

// Reject resolves the pending change if there is one. The reservation keeps
// its committed window and returns to approved. Without a pending change a
// pending reservation moves to rejected.
func (c *Coordinator) Reject(ctx context.Context, caller core.Caller, id core.ReservationID, reason string) (*core.Reservation, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, core.ErrReasonRequired
	}
	room, err := c.roomOf(ctx, id)
	if err != nil {
		return nil, err
	}

	var rejected *core.Reservation
	err = c.run(ctx, "reject", caller, room, func(ctx context.Context, u *unit) error {
		r, err := u.tx.GetReservation(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				return notFound(id)
			}
			return fmt.Errorf("load reservation: %w", err)
		}

		switch {
		case r.HasPendingChange():
			ch := r.PendingChange
			ch.Status, ch.RejectReason, ch.UpdatedAt = core.ChangeRejected, &reason, u.now
			if err := u.tx.UpdateChange(ctx, ch); err != nil {
				return fmt.Errorf("update change: %w", err)
			}
			r.PendingChange = nil
			r.Status = core.StatusApproved
		case r.Status == core.StatusPending:
			r.Status = core.StatusRejected
		default:
			return fmt.Errorf("reject %s reservation: %w", r.Status, core.ErrInvalidTransition)
		}

		r.UpdatedAt = u.now
		if err := u.tx.UpdateReservation(ctx, r); err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		payload := payloadFor(r.Window, "")
		payload.Reason = reason
		if err := u.emit(ctx, r, core.EventRejected, payload); err != nil {
			return err
		}
		rejected = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}
