package accounts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/roombook/accounts"
	"github.com/warp/roombook/core"
	"github.com/warp/roombook/core/store"
)

var admin = core.Caller{ID: "admin-1", Role: core.RoleAdmin}

func newService(t *testing.T, users ...core.User) (*accounts.Service, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	err := m.WithTx(context.Background(), func(tx core.Tx) error {
		for _, u := range users {
			if err := tx.SaveUser(context.Background(), u); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return accounts.NewService(m, nil, 0), m
}

func user(id string, role core.Role, status core.UserStatus) core.User {
	return core.User{ID: core.UserID(id), Email: id + "@example.com", Name: id, CompanyName: "Acme", Role: role, Status: status}
}

func TestUpdate_LastActiveAdminCannotBeDemoted(t *testing.T) {
	// GIVEN: Exactly one active admin
	// WHEN: Demoting them to user
	// THEN: InvariantViolation, nothing changes

	svc, m := newService(t,
		user("admin-1", core.RoleAdmin, core.UserActive),
		user("u-1", core.RoleUser, core.UserActive),
	)
	ctx := context.Background()
	role := core.RoleUser

	_, err := svc.Update(ctx, admin, "admin-1", accounts.Patch{Role: &role})

	var inv *core.InvariantViolation
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "At least one active admin is required", inv.Message)

	users, err := m.ListUsers(ctx)
	require.NoError(t, err)
	for _, u := range users {
		if u.ID == "admin-1" {
			assert.Equal(t, core.RoleAdmin, u.Role)
		}
	}
}

func TestUpdate_LastActiveAdminCannotBeDeactivated(t *testing.T) {
	svc, _ := newService(t,
		user("admin-1", core.RoleAdmin, core.UserActive),
		user("admin-2", core.RoleAdmin, core.UserInactive),
	)
	status := core.UserInactive

	_, err := svc.Update(context.Background(), admin, "admin-1", accounts.Patch{Status: &status})
	assert.ErrorIs(t, err, core.ErrInvariant)
}

func TestUpdate_DemotionAllowedWithAnotherActiveAdmin(t *testing.T) {
	svc, _ := newService(t,
		user("admin-1", core.RoleAdmin, core.UserActive),
		user("admin-2", core.RoleAdmin, core.UserActive),
	)
	role := core.RoleUser

	got, err := svc.Update(context.Background(), admin, "admin-2", accounts.Patch{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, core.RoleUser, got.Role)
}

func TestUpdate_NonAdminForbidden(t *testing.T) {
	svc, _ := newService(t, user("u-1", core.RoleUser, core.UserActive))
	name := "x"

	_, err := svc.Update(context.Background(), core.Caller{ID: "u-1", Role: core.RoleUser}, "u-1", accounts.Patch{Name: &name})
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestUpdate_UnknownUser(t *testing.T) {
	svc, _ := newService(t, user("admin-1", core.RoleAdmin, core.UserActive))
	name := "x"

	_, err := svc.Update(context.Background(), admin, "ghost", accounts.Patch{Name: &name})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdate_RejectsUnknownRole(t *testing.T) {
	svc, _ := newService(t, user("admin-1", core.RoleAdmin, core.UserActive))
	role := core.Role("owner")

	_, err := svc.Update(context.Background(), admin, "admin-1", accounts.Patch{Role: &role})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestList_Filters(t *testing.T) {
	svc, _ := newService(t,
		user("admin-1", core.RoleAdmin, core.UserActive),
		user("bob", core.RoleUser, core.UserInactive),
	)
	ctx := context.Background()

	all, err := svc.List(ctx, admin, accounts.Query{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	inactive, err := svc.List(ctx, admin, accounts.Query{Status: "inactive"})
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, core.UserID("bob"), inactive[0].ID)

	byName, err := svc.List(ctx, admin, accounts.Query{Q: "BOB"})
	require.NoError(t, err)
	assert.Len(t, byName, 1)
}
