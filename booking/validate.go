package booking

import (
	"strings"
	"time"

	"github.com/warp/roombook/core"
)

// =============================================================================
// TIME WINDOW VALIDATOR - Pure, first failing rule wins
// =============================================================================

// acceptedLayouts are tried in order. Layouts without an offset are read in
// the configured location.
var acceptedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTime parses one timestamp in any accepted layout.
func ParseTime(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range acceptedLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseWindow parses both ends of a requested window.
func ParseWindow(start, end string, loc *time.Location) (core.TimeRange, error) {
	s, okStart := ParseTime(start, loc)
	e, okEnd := ParseTime(end, loc)
	if !okStart || !okEnd {
		return core.TimeRange{}, core.NewValidationError(core.RuleInvalidFormat, "Invalid date format")
	}
	return core.NewTimeRange(s, e), nil
}

// ValidateWindow applies the policy rules to an already parsed window.
// Operating hours are anchored to the calendar date of the start in loc.
func ValidateWindow(w core.TimeRange, policy core.PolicyConfig, loc *time.Location) error {
	if !w.Valid() {
		return core.NewValidationError(core.RuleEndBeforeStart, "End time must be after start time")
	}

	if w.Duration() > time.Duration(policy.MaxDurationMinutes)*time.Minute {
		return core.NewValidationError(core.RuleMaxDuration, "Max duration is %d minutes", policy.MaxDurationMinutes)
	}

	local := w.In(loc)
	if !aligned(local.Start, policy.SlotMinutes) || !aligned(local.End, policy.SlotMinutes) {
		return core.NewValidationError(core.RuleSlotAlignment, "Time must align to %d-minute slots", policy.SlotMinutes)
	}

	open, close, err := policy.Hours()
	if err != nil {
		return &core.InvariantViolation{Rule: "hours", Message: err.Error()}
	}
	dayStart := open.On(local.Start)
	dayEnd := close.On(local.Start)
	if local.Start.Before(dayStart) || local.End.After(dayEnd) {
		return core.NewValidationError(core.RuleOperatingHours,
			"Reservations must be within %s-%s", policy.OpenTime, policy.CloseTime)
	}
	return nil
}

// Validate parses and validates in one step.
func Validate(start, end string, policy core.PolicyConfig, loc *time.Location) (core.TimeRange, error) {
	w, err := ParseWindow(start, end, loc)
	if err != nil {
		return core.TimeRange{}, err
	}
	if err := ValidateWindow(w, policy, loc); err != nil {
		return core.TimeRange{}, err
	}
	return w, nil
}

func aligned(t time.Time, slot int) bool {
	if slot <= 0 {
		return false
	}
	return t.Second() == 0 && t.Nanosecond() == 0 && t.Minute()%slot == 0
}
