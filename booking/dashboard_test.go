package booking_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/roombook/core"
)

func TestWeeklyDashboard_ApprovedOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, "2025-03-10T10:00", "2025-03-10T11:30") // Monday, 90 min
	f.create(t, alice, "2025-03-14T09:00", "2025-03-14T10:00") // Friday, 60 min
	f.create(t, alice, "2025-03-17T09:00", "2025-03-17T10:00") // next week
	canceled := f.create(t, alice, "2025-03-11T09:00", "2025-03-11T10:00")
	_, err := f.coord.Cancel(ctx, alice, canceled.ID)
	require.NoError(t, err)

	d, err := f.coord.WeeklyDashboard(ctx, "2025-03-10")
	require.NoError(t, err)

	require.Len(t, d.Reservations, 2)
	assert.Equal(t, "Acme", d.Reservations[0].CompanyName)
	assert.Equal(t, 90, d.Reservations[0].DurationMinutes)
	assert.Equal(t, "2.5", d.TotalHours.String())
	assert.Nil(t, d.Counts)
}

func TestAdminWeeklyDashboard_Counts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, "2025-03-10T10:00", "2025-03-10T11:00")
	c := f.create(t, alice, "2025-03-11T10:00", "2025-03-11T11:00")
	_, err := f.coord.Cancel(ctx, alice, c.ID)
	require.NoError(t, err)
	f.setApproval(t, true)
	f.create(t, alice, "2025-03-12T10:00", "2025-03-12T11:00")

	_, err = f.coord.AdminWeeklyDashboard(ctx, alice, "2025-03-10")
	assert.ErrorIs(t, err, core.ErrForbidden)

	d, err := f.coord.AdminWeeklyDashboard(ctx, admin, "2025-03-10")
	require.NoError(t, err)
	assert.Len(t, d.Reservations, 3)
	assert.Equal(t, map[core.Status]int{
		core.StatusApproved: 1,
		core.StatusPending:  1,
		core.StatusCanceled: 1,
		core.StatusRejected: 0,
	}, d.Counts)
}

func TestMonthlyDashboard_GroupsByDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, "2025-03-10T10:00", "2025-03-10T11:00")
	f.create(t, bob, "2025-03-10T13:00", "2025-03-10T13:30")
	f.create(t, bob, "2025-03-21T09:00", "2025-03-21T11:00")
	f.create(t, bob, "2025-04-01T09:00", "2025-04-01T10:00")

	d, err := f.coord.MonthlyDashboard(ctx, "2025-03")
	require.NoError(t, err)

	require.Len(t, d.Days, 2)
	assert.Equal(t, "2025-03-10", d.Days[0].Date)
	assert.Equal(t, 90, d.Days[0].TotalMinutes)
	assert.Len(t, d.Days[0].Items, 2)
	assert.Equal(t, "2025-03-21", d.Days[1].Date)
	assert.Equal(t, "3.5", d.TotalHours.String())
}

func TestDashboards_RequireDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.WeeklyDashboard(ctx, "")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.coord.MonthlyDashboard(ctx, "March")
	assert.ErrorIs(t, err, core.ErrValidation)
}
