package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// TIME RANGE - Half-open booking window
// =============================================================================

// TimeRange is the half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{Start: start, End: end}
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration { return r.End.Sub(r.Start) }

// Minutes returns the duration in whole minutes.
func (r TimeRange) Minutes() int { return int(r.Duration() / time.Minute) }

// Valid reports whether End is strictly after Start.
func (r TimeRange) Valid() bool { return r.End.After(r.Start) }

func (r TimeRange) Equal(other TimeRange) bool {
	return r.Start.Equal(other.Start) && r.End.Equal(other.End)
}

// In returns the same instants expressed in loc.
func (r TimeRange) In(loc *time.Location) TimeRange {
	return TimeRange{Start: r.Start.In(loc), End: r.End.In(loc)}
}

func (r TimeRange) String() string {
	return "[" + r.Start.Format(time.RFC3339) + ", " + r.End.Format(time.RFC3339) + ")"
}

// Overlaps is the one conflict predicate: [s1,e1) and [s2,e2) overlap iff
// s1 < e2 and e1 > s2. Touching ranges (e1 == s2) do not overlap.
func Overlaps(a, b TimeRange) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// =============================================================================
// WALL CLOCK - Operating hours such as "09:00"
// =============================================================================

// WallClock is a local time of day, minute precision.
type WallClock struct {
	Hour   int
	Minute int
}

// ParseWallClock parses "HH:MM". "24:00" is accepted as end of day.
func ParseWallClock(s string) (WallClock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return WallClock{}, fmt.Errorf("invalid wall clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return WallClock{}, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return WallClock{}, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return WallClock{}, fmt.Errorf("wall clock %q out of range", s)
	}
	return WallClock{Hour: h, Minute: m}, nil
}

// On combines the calendar date of day (in day's location) with the clock.
func (w WallClock) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), w.Hour, w.Minute, 0, 0, day.Location())
}

func (w WallClock) Before(other WallClock) bool {
	return w.Hour*60+w.Minute < other.Hour*60+other.Minute
}

func (w WallClock) String() string { return fmt.Sprintf("%02d:%02d", w.Hour, w.Minute) }

// =============================================================================
// TIME UTILITIES
// =============================================================================

func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func StartOfMonth(year int, month time.Month, loc *time.Location) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, loc)
}
