package booking

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/roombook/core"
)

// =============================================================================
// DASHBOARDS - Weekly and monthly occupancy summaries
// =============================================================================

var sixty = decimal.NewFromInt(60)

// DashboardItem is one booking on a dashboard.
type DashboardItem struct {
	ReservationID   core.ReservationID
	RoomID          core.RoomID
	UserID          core.UserID
	CompanyName     string
	Window          core.TimeRange
	DurationMinutes int
	Status          core.Status
}

type WeeklyDashboard struct {
	WeekStart    time.Time
	WeekEnd      time.Time
	Reservations []DashboardItem
	TotalHours   decimal.Decimal

	// Counts by effective status; only filled on the admin view.
	Counts map[core.Status]int
}

type DayTotal struct {
	Date         string // 2006-01-02 in the configured zone
	TotalMinutes int
	TotalHours   decimal.Decimal
	Items        []DashboardItem
}

type MonthlyDashboard struct {
	Month      string // 2006-01
	Days       []DayTotal
	TotalHours decimal.Decimal
}

// WeeklyDashboard lists approved bookings starting in the 7 days from weekStart.
func (c *Coordinator) WeeklyDashboard(ctx context.Context, weekStart string) (*WeeklyDashboard, error) {
	start, err := c.parseDay(weekStart, "week_start")
	if err != nil {
		return nil, err
	}
	return c.weekly(ctx, start, []core.Status{core.StatusApproved}, false)
}

// AdminWeeklyDashboard lists every booking of the week with status counts.
func (c *Coordinator) AdminWeeklyDashboard(ctx context.Context, caller core.Caller, weekStart string) (*WeeklyDashboard, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	start, err := c.parseDay(weekStart, "week_start")
	if err != nil {
		return nil, err
	}
	return c.weekly(ctx, start, nil, true)
}

func (c *Coordinator) weekly(ctx context.Context, start time.Time, statuses []core.Status, withCounts bool) (*WeeklyDashboard, error) {
	end := start.AddDate(0, 0, 7)
	list, err := c.listStarting(ctx, start, end, statuses)
	if err != nil {
		return nil, err
	}

	d := &WeeklyDashboard{WeekStart: start, WeekEnd: end, TotalHours: decimal.Zero}
	if withCounts {
		d.Counts = map[core.Status]int{
			core.StatusApproved: 0,
			core.StatusPending:  0,
			core.StatusCanceled: 0,
			core.StatusRejected: 0,
		}
	}
	minutes := 0
	for i := range list {
		item := dashboardItem(&list[i], c.loc)
		d.Reservations = append(d.Reservations, item)
		minutes += item.DurationMinutes
		if withCounts {
			d.Counts[item.Status]++
		}
	}
	d.TotalHours = hours(minutes)
	return d, nil
}

// MonthlyDashboard groups approved bookings of month ("2006-01") by day.
func (c *Coordinator) MonthlyDashboard(ctx context.Context, month string) (*MonthlyDashboard, error) {
	m, err := time.ParseInLocation("2006-01", strings.TrimSpace(month), c.loc)
	if err != nil {
		return nil, core.NewValidationError(core.RuleInput, "month required")
	}
	start := core.StartOfMonth(m.Year(), m.Month(), c.loc)
	end := start.AddDate(0, 1, 0)

	list, err := c.listStarting(ctx, start, end, []core.Status{core.StatusApproved})
	if err != nil {
		return nil, err
	}

	d := &MonthlyDashboard{Month: start.Format("2006-01"), TotalHours: decimal.Zero}
	index := make(map[string]int)
	total := 0
	for i := range list {
		item := dashboardItem(&list[i], c.loc)
		key := item.Window.Start.Format("2006-01-02")
		pos, ok := index[key]
		if !ok {
			pos = len(d.Days)
			index[key] = pos
			d.Days = append(d.Days, DayTotal{Date: key})
		}
		day := &d.Days[pos]
		day.TotalMinutes += item.DurationMinutes
		day.Items = append(day.Items, item)
		total += item.DurationMinutes
	}
	for i := range d.Days {
		d.Days[i].TotalHours = hours(d.Days[i].TotalMinutes)
	}
	d.TotalHours = hours(total)
	return d, nil
}

func (c *Coordinator) listStarting(ctx context.Context, from, before time.Time, statuses []core.Status) ([]core.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	list, err := c.store.ListReservations(ctx, core.ReservationFilter{
		From:        &from,
		StartBefore: &before,
		Statuses:    statuses,
	})
	return list, transient("list reservations", err)
}

// parseDay reads a calendar date (or a timestamp, truncated to its day).
func (c *Coordinator) parseDay(value, field string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, core.NewValidationError(core.RuleInput, "%s required", field)
	}
	if t, err := time.ParseInLocation("2006-01-02", value, c.loc); err == nil {
		return t, nil
	}
	if t, ok := ParseTime(value, c.loc); ok {
		return core.StartOfDay(t.In(c.loc)), nil
	}
	return time.Time{}, core.NewValidationError(core.RuleInvalidFormat, "Invalid date format")
}

func dashboardItem(r *core.Reservation, loc *time.Location) DashboardItem {
	return DashboardItem{
		ReservationID:   r.ID,
		RoomID:          r.RoomID,
		UserID:          r.OwnerID,
		CompanyName:     r.OwnerCompany,
		Window:          r.Window.In(loc),
		DurationMinutes: r.Window.Minutes(),
		Status:          r.EffectiveStatus(),
	}
}

func hours(minutes int) decimal.Decimal {
	return decimal.NewFromInt(int64(minutes)).DivRound(sixty, 2)
}
