package mysql_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/roombook/core"
	"github.com/warp/roombook/store/mysql"
	"github.com/warp/roombook/store/sqlstore"
)

func newMockStore(t *testing.T) (*sqlstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for range mysql.Dialect.Schema {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM settings")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	s, err := mysql.NewWithDB(context.Background(), db)
	require.NoError(t, err)
	return s, mock
}

func TestNewWithDB_SeedsSettingsWhenEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range mysql.Dialect.Schema {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM settings")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectExec("INSERT INTO settings").
		WithArgs(false, 30, 120, "09:00", "21:00").
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err = mysql.NewWithDB(context.Background(), db)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRoom_SelectsForUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM rooms WHERE id = ? FOR UPDATE")).
		WithArgs("main").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("main"))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(tx core.Tx) error { return tx.LockRoom(ctx, "main") })
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRoom_UnknownRoomIsLeftToGetRoom(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, active FROM rooms WHERE id = ?")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "active"}))
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(tx core.Tx) error {
		if err := tx.LockRoom(ctx, "ghost"); err != nil {
			return err
		}
		_, err := tx.GetRoom(ctx, "ghost")
		return err
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadlockIsTransient(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reservations").
		WillReturnError(&gomysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"})
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(tx core.Tx) error {
		return tx.InsertReservation(ctx, &core.Reservation{ID: "r-1", RoomID: "main", OwnerID: "alice"})
	})
	assert.ErrorIs(t, err, core.ErrTransient)
	assert.True(t, core.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBadConnIsTransient(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, active FROM rooms").WillReturnError(sql.ErrConnDone)

	_, err := s.ListRooms(context.Background(), true)
	assert.ErrorIs(t, err, core.ErrTransient)
}

func TestSaveUser_DuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE id = ?")).
		WithArgs("u-2").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&gomysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(tx core.Tx) error {
		return tx.SaveUser(ctx, core.User{ID: "u-2", Email: "a@example.test", Role: core.RoleUser, Status: core.UserActive})
	})
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountActiveAdmins_LocksRows(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE role = 'admin' AND status = 'active' FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("root").AddRow("ops"))
	mock.ExpectCommit()

	var n int
	err := s.WithTx(ctx, func(tx core.Tx) error {
		var err error
		n, err = tx.CountActiveAdmins(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPolicy_ScansSettingsRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT approval_mode, slot_minutes").
		WillReturnRows(sqlmock.NewRows([]string{
			"approval_mode", "slot_minutes", "max_duration_minutes", "open_time", "close_time", "updated_at", "updated_by",
		}).AddRow(int64(1), int64(15), int64(60), "08:00", "18:00", "2025-03-01 12:00:00", "root"))

	p, err := s.GetPolicy(context.Background())
	require.NoError(t, err)
	assert.True(t, p.ApprovalMode)
	assert.Equal(t, 15, p.SlotMinutes)
	assert.Equal(t, 60, p.MaxDurationMinutes)
	assert.Equal(t, "08:00", p.OpenTime)
	assert.Equal(t, core.UserID("root"), p.UpdatedBy)
	assert.Equal(t, 2025, p.UpdatedAt.Year())
}

func TestUpdateReservation_MissingRowIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE reservations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithTx(ctx, func(tx core.Tx) error {
		return tx.UpdateReservation(ctx, &core.Reservation{ID: "ghost"})
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}
