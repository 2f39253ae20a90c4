/*
errors.go - Centralized error taxonomy for roombook

PURPOSE:
  Every failure the engine reports is one of the kinds below. Handlers map
  kinds to HTTP statuses by errors.Is / errors.As, never by message text.

ERROR CATEGORIES:
  1. Validation - the requested window or input breaks a policy rule
  2. Conflict   - the window overlaps a blocking reservation
  3. State      - NotFound, Forbidden, InvalidTransition, ChangePending
  4. Invariant  - an update would break a global invariant (admin floor)
  5. Transient  - store timeout or connectivity; nothing was committed

USAGE:
    var verr *core.ValidationError
    if errors.As(err, &verr) {
        // verr.Rule is one of the Rule* constants
    }

SEE ALSO:
  - booking/validate.go: Produces ValidationError
  - api/errors.go:       Maps kinds to HTTP statuses
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the category of every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is the category of every ConflictError.
	ErrConflict = errors.New("time slot conflict")

	// ErrNotFound covers missing records and records hidden from the caller.
	// Canceling someone else's reservation looks the same as a missing one.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller lacks the role for an operation.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated is returned when no caller identity is present.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidTransition is returned for a state change the machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrChangePending is returned when a reservation already has a pending change.
	ErrChangePending = errors.New("a change request is already pending")

	// ErrReasonRequired is returned when a reject carries no reason.
	ErrReasonRequired = errors.New("Reject reason required")

	// ErrInvariant is the category of every InvariantViolation.
	ErrInvariant = errors.New("invariant violation")

	// ErrTransient marks store timeouts and connection loss. Safe to retry.
	ErrTransient = errors.New("temporarily unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Validation rule codes, in the order they are checked.
const (
	RuleInvalidFormat  = "invalid_format"
	RuleEndBeforeStart = "end_before_start"
	RuleMaxDuration    = "max_duration"
	RuleSlotAlignment  = "slot_alignment"
	RuleOperatingHours = "operating_hours"
	RuleRoomInactive   = "room_inactive"
	RuleInput          = "input"
)

// ValidationError names the first rule a request broke.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports the blocking reservation that was hit.
type ConflictError struct {
	RoomID        RoomID
	Window        TimeRange
	ConflictingID ReservationID
}

func (e *ConflictError) Error() string {
	return "Time slot conflict"
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "Reservation", "Room", "User"
	ID   string
}

func (e *NotFoundError) Error() string { return e.Kind + " not found" }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvariantViolation reports an update that would break a global rule.
type InvariantViolation struct {
	Rule    string
	Message string
}

func (e *InvariantViolation) Error() string { return e.Message }

func (e *InvariantViolation) Unwrap() error { return ErrInvariant }

// TransientError wraps the underlying store failure.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the category and the cause.
func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrReasonRequired) ||
		errors.Is(err, ErrInvariant)
}

// IsConflict returns true for overlap and state clashes.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrChangePending) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
