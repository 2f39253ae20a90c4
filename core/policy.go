package core

import (
	"fmt"
	"time"
)

// PolicyConfig is the scheduling policy. It is read once per operation and
// treated as an immutable snapshot for the rest of that operation.
type PolicyConfig struct {
	ApprovalMode       bool
	SlotMinutes        int
	MaxDurationMinutes int
	OpenTime           string // "HH:MM", local wall clock
	CloseTime          string // "HH:MM", local wall clock

	UpdatedAt time.Time
	UpdatedBy UserID
}

// DefaultPolicy mirrors the settings row that a fresh database is seeded with.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		ApprovalMode:       false,
		SlotMinutes:        30,
		MaxDurationMinutes: 120,
		OpenTime:           "09:00",
		CloseTime:          "21:00",
	}
}

// Hours returns the parsed operating window.
func (p PolicyConfig) Hours() (open, close WallClock, err error) {
	open, err = ParseWallClock(p.OpenTime)
	if err != nil {
		return open, close, err
	}
	close, err = ParseWallClock(p.CloseTime)
	return open, close, err
}

// Check rejects a policy that can never admit a booking.
func (p PolicyConfig) Check() error {
	if p.SlotMinutes <= 0 || p.SlotMinutes > 24*60 {
		return &InvariantViolation{Rule: "slot_minutes", Message: "slot_minutes must be between 1 and 1440"}
	}
	if p.MaxDurationMinutes <= 0 {
		return &InvariantViolation{Rule: "max_duration_minutes", Message: "max_duration_minutes must be positive"}
	}
	open, close, err := p.Hours()
	if err != nil {
		return &InvariantViolation{Rule: "hours", Message: err.Error()}
	}
	if !open.Before(close) {
		return &InvariantViolation{
			Rule:    "hours",
			Message: fmt.Sprintf("open_time %s must be before close_time %s", open, close),
		}
	}
	return nil
}

// PolicyPatch is an admin update; nil fields keep their current value.
type PolicyPatch struct {
	ApprovalMode       *bool
	SlotMinutes        *int
	MaxDurationMinutes *int
	OpenTime           *string
	CloseTime          *string
}

// Apply returns p with the patch applied.
func (patch PolicyPatch) Apply(p PolicyConfig) PolicyConfig {
	if patch.ApprovalMode != nil {
		p.ApprovalMode = *patch.ApprovalMode
	}
	if patch.SlotMinutes != nil {
		p.SlotMinutes = *patch.SlotMinutes
	}
	if patch.MaxDurationMinutes != nil {
		p.MaxDurationMinutes = *patch.MaxDurationMinutes
	}
	if patch.OpenTime != nil {
		p.OpenTime = *patch.OpenTime
	}
	if patch.CloseTime != nil {
		p.CloseTime = *patch.CloseTime
	}
	return p
}
