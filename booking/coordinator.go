/*
coordinator.go - Admission coordinator: one atomic unit of work per operation

PURPOSE:
  Every state-changing reservation operation goes through Coordinator.run.
  The run wraps the caller's context in a bounded timeout, takes the
  per-room lock, opens a store transaction, locks the room row, loads a
  fresh policy snapshot and hands a unit to the operation. Notification
  rows are written by the unit inside the transaction; the matching
  envelopes are handed to the Publisher only after commit.

FLOW:
    ctx, cancel := WithTimeout(...)
    release := Locker.Lock(RoomKey(room))
    Store.WithTx(func(tx) {
        tx.LockRoom(room)
        policy := tx.GetPolicy()
        op(unit)                 // validate, conflict, transition, emit
    })
    Publisher.Publish(outbox)    // failures are logged, never returned

SEE ALSO:
  - reservation.go: create / modify / cancel
  - change.go:      approve / reject (with or without a pending change)
  - notify/:        Publisher implementations
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/roombook/core"
	"github.com/warp/roombook/lock"
	"github.com/warp/roombook/logging"
	"github.com/warp/roombook/metrics"
)

// DefaultTimeout bounds one admission, lock wait included.
const DefaultTimeout = 5 * time.Second

// Publisher receives committed notifications. It must not block for long
// and has no way to fail the operation that produced them.
type Publisher interface {
	Publish(ctx context.Context, envelopes []core.Envelope)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, envelopes []core.Envelope)

func (f PublisherFunc) Publish(ctx context.Context, envelopes []core.Envelope) { f(ctx, envelopes) }

// Config wires a Coordinator. Only Store is required.
type Config struct {
	Store     core.Store
	Locker    lock.Locker
	Publisher Publisher
	Location  *time.Location
	Timeout   time.Duration
	Logger    *zerolog.Logger

	Now   func() time.Time
	NewID func() string
}

type Coordinator struct {
	store     core.Store
	locker    lock.Locker
	publisher Publisher
	loc       *time.Location
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string
}

func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		store:     cfg.Store,
		locker:    cfg.Locker,
		publisher: cfg.Publisher,
		loc:       cfg.Location,
		timeout:   cfg.Timeout,
		now:       cfg.Now,
		newID:     cfg.NewID,
	}
	if c.locker == nil {
		c.locker = lock.NewLocal()
	}
	if c.publisher == nil {
		c.publisher = PublisherFunc(func(context.Context, []core.Envelope) {})
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if cfg.Logger != nil {
		c.logger = *cfg.Logger
	} else {
		c.logger = logging.WithComponent("booking")
	}
	return c
}

// Location is the zone used for offset-less input and operating hours.
func (c *Coordinator) Location() *time.Location { return c.loc }

// =============================================================================
// UNIT OF WORK
// =============================================================================

// unit is what an operation sees inside the transaction.
type unit struct {
	tx     core.Tx
	policy core.PolicyConfig
	now    time.Time
	caller core.Caller
	outbox []core.Envelope
	newID  func() string
}

// emit appends a notification row and queues its envelope for after commit.
func (u *unit) emit(ctx context.Context, r *core.Reservation, typ core.EventType, payload core.NotificationPayload) error {
	recipient, err := u.recipient(ctx, r.OwnerID)
	if err != nil {
		return err
	}
	if payload.CompanyName == "" {
		payload.CompanyName = recipient.Company
	}

	n := core.Notification{
		ID:            core.NotificationID(u.newID()),
		ReservationID: r.ID,
		Type:          typ,
		Payload:       payload,
		CreatedAt:     u.now,
	}
	if err := u.tx.AppendNotification(ctx, n); err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	u.outbox = append(u.outbox, core.Envelope{Notification: n, Recipient: recipient})
	return nil
}

// recipient resolves the owner from the users relation. Owners known only
// to the identity provider fall back to the caller's claims.
func (u *unit) recipient(ctx context.Context, owner core.UserID) (core.Recipient, error) {
	user, err := u.tx.GetUser(ctx, owner)
	switch {
	case err == nil:
		return core.Recipient{UserID: user.ID, Email: user.Email, Name: user.Name, Company: user.CompanyName}, nil
	case errors.Is(err, core.ErrNotFound):
		rec := core.Recipient{UserID: owner}
		if owner == u.caller.ID {
			rec.Email, rec.Company = u.caller.Email, u.caller.Company
		}
		return rec, nil
	default:
		return core.Recipient{}, fmt.Errorf("load owner %s: %w", owner, err)
	}
}

func payloadFor(w core.TimeRange, company string) core.NotificationPayload {
	return core.NotificationPayload{CompanyName: company, StartAt: w.Start, EndAt: w.End}
}

// =============================================================================
// RUN
// =============================================================================

func (c *Coordinator) run(ctx context.Context, op string, caller core.Caller, room core.RoomID, fn func(ctx context.Context, u *unit) error) (err error) {
	started := time.Now()
	defer func() {
		outcome := Outcome(err)
		metrics.Admissions.WithLabelValues(op, outcome).Inc()
		metrics.AdmissionDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())

		ev := c.logger.Debug()
		if outcome == metrics.OutcomeTransient || outcome == metrics.OutcomeError {
			ev = c.logger.Warn().Err(err)
		}
		ev.Str(logging.FieldOperation, op).
			Str(logging.FieldOutcome, outcome).
			Str(logging.FieldRoom, string(room)).
			Str(logging.FieldCaller, string(caller.ID)).
			Str(logging.FieldRequestID, logging.RequestIDFromContext(ctx)).
			Msg("admission")
	}()

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	release, err := c.locker.Lock(opCtx, lock.RoomKey(room))
	if err != nil {
		return transient("lock room", err)
	}
	defer release()

	u := &unit{caller: caller, newID: c.newID}
	err = c.store.WithTx(opCtx, func(tx core.Tx) error {
		if err := tx.LockRoom(opCtx, room); err != nil {
			return fmt.Errorf("lock room row: %w", err)
		}
		policy, err := tx.GetPolicy(opCtx)
		if err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
		u.tx, u.policy, u.now, u.outbox = tx, policy, c.now(), nil
		return fn(opCtx, u)
	})
	if err != nil {
		return transient(op, err)
	}

	if len(u.outbox) > 0 {
		// detached: the request may end before delivery does
		c.publisher.Publish(context.WithoutCancel(ctx), u.outbox)
	}
	return nil
}

// transient tags deadline and cancellation errors that are not already tagged.
func transient(op string, err error) error {
	if err == nil || errors.Is(err, core.ErrTransient) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &core.TransientError{Op: op, Err: err}
	}
	return err
}

// Outcome maps an operation error to its metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, core.ErrTransient):
		return metrics.OutcomeTransient
	case core.IsConflict(err):
		return metrics.OutcomeConflict
	case core.IsClientError(err):
		return metrics.OutcomeValidation
	case core.IsNotFound(err):
		return metrics.OutcomeNotFound
	case errors.Is(err, core.ErrForbidden), errors.Is(err, core.ErrUnauthenticated):
		return metrics.OutcomeForbidden
	default:
		return metrics.OutcomeError
	}
}

func requireAdmin(caller core.Caller) error {
	if caller.ID == "" {
		return core.ErrUnauthenticated
	}
	if !caller.IsAdmin() {
		return core.ErrForbidden
	}
	return nil
}

func requireCaller(caller core.Caller) error {
	if caller.ID == "" {
		return core.ErrUnauthenticated
	}
	return nil
}

// roomOf resolves the room to lock for an existing reservation. The room of
// a reservation never changes, so reading it before the lock is safe.
func (c *Coordinator) roomOf(ctx context.Context, id core.ReservationID) (core.RoomID, error) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	r, err := c.store.GetReservation(rctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return "", notFound(id)
		}
		return "", transient("load reservation", err)
	}
	return r.RoomID, nil
}

func notFound(id core.ReservationID) error {
	return &core.NotFoundError{Kind: "Reservation", ID: string(id)}
}
