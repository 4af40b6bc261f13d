package workspaces

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psychon7/vibe-kanban/pkg/rbac"
	"github.com/psychon7/vibe-kanban/pkg/storage"
)

// fakeClock pins time for expiry tests.
type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

func newMockService(t *testing.T) (*SQLService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	service := NewSQLService(db, storage.DriverPostgres, fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)})
	return service, mock, db
}

var (
	lockMemberQuery  = regexp.QuoteMeta(`SELECT role_id
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2 FOR UPDATE`)
	lockTopTierQuery = regexp.QuoteMeta(`SELECT user_id
		FROM workspace_members
		WHERE workspace_id = $1 AND role_id = $2 FOR UPDATE`)
)

func TestCreateWorkspace(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()

	t.Run("creator is enrolled in the same transaction", func(t *testing.T) {
		now := time.Now()
		wsID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO workspaces`).
			WithArgs(sqlmock.AnyArg(), "Platform Team", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_by", "created_at", "updated_at"}).
				AddRow(wsID.String(), "Platform Team", "user-1", now, now))
		mock.ExpectExec(`INSERT INTO workspace_members`).
			WithArgs(wsID, "user-1", rbac.RoleOwnerID).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		ws, err := service.CreateWorkspace(context.Background(), "Platform Team", "user-1", rbac.RoleOwnerID)
		require.NoError(t, err)
		assert.Equal(t, wsID, ws.ID)
		assert.Equal(t, "user-1", ws.CreatedBy)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("enrollment failure rolls back the workspace", func(t *testing.T) {
		wsID := uuid.New()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO workspaces`).
			WithArgs(sqlmock.AnyArg(), "Broken", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_by", "created_at", "updated_at"}).
				AddRow(wsID.String(), "Broken", "user-1", now, now))
		mock.ExpectExec(`INSERT INTO workspace_members`).
			WithArgs(wsID, "user-1", rbac.RoleOwnerID).
			WillReturnError(fmt.Errorf("constraint violation"))
		mock.ExpectRollback()

		_, err := service.CreateWorkspace(context.Background(), "Broken", "user-1", rbac.RoleOwnerID)
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAddMember(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()

	wsID := uuid.New()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO workspace_members`).
			WithArgs(wsID, "user-2", rbac.RoleMemberID, "user-1").
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.AddMember(context.Background(), wsID, "user-2", rbac.RoleMemberID, "user-1")
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing membership is not overwritten", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO workspace_members`).
			WithArgs(wsID, "user-2", rbac.RoleViewerID, "user-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.AddMember(context.Background(), wsID, "user-2", rbac.RoleViewerID, "user-1")
		assert.ErrorIs(t, err, ErrAlreadyMember)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateMemberRole(t *testing.T) {
	wsID := uuid.New()

	t.Run("member not found", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockMemberQuery).
			WithArgs(wsID, "ghost").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := service.UpdateMemberRole(context.Background(), wsID, "ghost", rbac.RoleMemberID, rbac.RoleOwnerID)
		assert.ErrorIs(t, err, ErrMemberNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("assigning the held role is a no-op", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockMemberQuery).
			WithArgs(wsID, "user-2").
			WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(rbac.RoleMemberID.String()))
		mock.ExpectCommit()

		err := service.UpdateMemberRole(context.Background(), wsID, "user-2", rbac.RoleMemberID, rbac.RoleOwnerID)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("demoting the sole owner is rejected", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockMemberQuery).
			WithArgs(wsID, "owner-1").
			WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(rbac.RoleOwnerID.String()))
		mock.ExpectQuery(lockTopTierQuery).
			WithArgs(wsID, rbac.RoleOwnerID).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("owner-1"))
		mock.ExpectRollback()

		err := service.UpdateMemberRole(context.Background(), wsID, "owner-1", rbac.RoleMemberID, rbac.RoleOwnerID)
		assert.ErrorIs(t, err, ErrLastOwnerRoleChange)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("demoting one of two owners succeeds", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockMemberQuery).
			WithArgs(wsID, "owner-2").
			WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(rbac.RoleOwnerID.String()))
		mock.ExpectQuery(lockTopTierQuery).
			WithArgs(wsID, rbac.RoleOwnerID).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).
				AddRow("owner-1").
				AddRow("owner-2"))
		mock.ExpectExec(`UPDATE workspace_members`).
			WithArgs(rbac.RoleMemberID, wsID, "owner-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.UpdateMemberRole(context.Background(), wsID, "owner-2", rbac.RoleMemberID, rbac.RoleOwnerID)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("changing a non-owner role skips the owner count", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockMemberQuery).
			WithArgs(wsID, "user-3").
			WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(rbac.RoleViewerID.String()))
		mock.ExpectExec(`UPDATE workspace_members`).
			WithArgs(rbac.RoleMemberID, wsID, "user-3").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.UpdateMemberRole(context.Background(), wsID, "user-3", rbac.RoleMemberID, rbac.RoleOwnerID)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRemoveMember(t *testing.T) {
	wsID := uuid.New()

	t.Run("removing the sole owner is rejected", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockMemberQuery).
			WithArgs(wsID, "owner-1").
			WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(rbac.RoleOwnerID.String()))
		mock.ExpectQuery(lockTopTierQuery).
			WithArgs(wsID, rbac.RoleOwnerID).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("owner-1"))
		mock.ExpectRollback()

		err := service.RemoveMember(context.Background(), wsID, "owner-1", rbac.RoleOwnerID)
		assert.ErrorIs(t, err, ErrLastOwner)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("removing one of two owners succeeds", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockMemberQuery).
			WithArgs(wsID, "owner-2").
			WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(rbac.RoleOwnerID.String()))
		mock.ExpectQuery(lockTopTierQuery).
			WithArgs(wsID, rbac.RoleOwnerID).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).
				AddRow("owner-1").
				AddRow("owner-2"))
		mock.ExpectExec(`DELETE FROM workspace_members`).
			WithArgs(wsID, "owner-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.RemoveMember(context.Background(), wsID, "owner-2", rbac.RoleOwnerID)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("removing a viewer skips the owner count", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockMemberQuery).
			WithArgs(wsID, "viewer-1").
			WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(rbac.RoleViewerID.String()))
		mock.ExpectExec(`DELETE FROM workspace_members`).
			WithArgs(wsID, "viewer-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.RemoveMember(context.Background(), wsID, "viewer-1", rbac.RoleOwnerID)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("member not found", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockMemberQuery).
			WithArgs(wsID, "ghost").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := service.RemoveMember(context.Background(), wsID, "ghost", rbac.RoleOwnerID)
		assert.ErrorIs(t, err, ErrMemberNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetWorkspace(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()

	t.Run("not found", func(t *testing.T) {
		id := uuid.New()
		mock.ExpectQuery(`SELECT id, name, created_by, created_at, updated_at`).
			WithArgs(id).
			WillReturnError(sql.ErrNoRows)

		_, err := service.GetWorkspace(context.Background(), id)
		assert.ErrorIs(t, err, ErrWorkspaceNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListMembers(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()

	wsID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"workspace_id", "user_id", "role_id", "name", "invited_by", "joined_at", "updated_at"}).
		AddRow(wsID.String(), "owner-1", rbac.RoleOwnerID.String(), "Owner", "", now, now).
		AddRow(wsID.String(), "user-2", rbac.RoleMemberID.String(), "Member", "owner-1", now, now)

	mock.ExpectQuery(`FROM workspace_members wm`).
		WithArgs(wsID).
		WillReturnRows(rows)

	members, err := service.ListMembers(context.Background(), wsID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "Owner", members[0].RoleName)
	assert.Equal(t, "owner-1", members[1].InvitedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}
