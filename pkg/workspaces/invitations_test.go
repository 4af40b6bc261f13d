package workspaces

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psychon7/vibe-kanban/pkg/rbac"
)

var acceptLockQuery = regexp.QuoteMeta(`SELECT id, workspace_id, role_id, status, invited_by, expires_at
		FROM workspace_invitations
		WHERE token = $1
		FOR UPDATE`)

var acceptLockColumns = []string{"id", "workspace_id", "role_id", "status", "invited_by", "expires_at"}

func TestGenerateToken(t *testing.T) {
	a, err := generateToken()
	require.NoError(t, err)
	b, err := generateToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestCreateInvitation(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()

	wsID := uuid.New()
	now := service.clock.Now()

	t.Run("success normalizes email and applies the TTL", func(t *testing.T) {
		invID := uuid.New()
		mock.ExpectQuery(`INSERT INTO workspace_invitations`).
			WithArgs(sqlmock.AnyArg(), wsID, "dana@example.com", rbac.RoleMemberID,
				sqlmock.AnyArg(), "owner-1", now, now.Add(48*time.Hour)).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "workspace_id", "email", "role_id", "token", "status", "invited_by", "created_at", "expires_at",
			}).AddRow(invID.String(), wsID.String(), "dana@example.com", rbac.RoleMemberID.String(),
				"tok", "pending", "owner-1", now, now.Add(48*time.Hour)))

		inv, err := service.CreateInvitation(context.Background(), wsID, "Dana@Example.com", rbac.RoleMemberID, "owner-1", 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, InvitationPending, inv.Status)
		assert.Equal(t, "dana@example.com", inv.Email)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second pending invitation for the same email conflicts", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO workspace_invitations`).
			WillReturnError(&pq.Error{Code: "23505"})

		_, err := service.CreateInvitation(context.Background(), wsID, "dana@example.com", rbac.RoleMemberID, "owner-1", 0)
		assert.ErrorIs(t, err, ErrPendingInvitationExists)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAcceptInvitation(t *testing.T) {
	wsID := uuid.New()
	invID := uuid.New()

	t.Run("pending invitation enrolls the user and becomes accepted", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()
		now := service.clock.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(acceptLockQuery).
			WithArgs("tok-1").
			WillReturnRows(sqlmock.NewRows(acceptLockColumns).
				AddRow(invID.String(), wsID.String(), rbac.RoleMemberID.String(), "pending", "owner-1", now.Add(time.Hour)))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM workspace_members`).
			WithArgs(wsID, "user-9").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(`INSERT INTO workspace_members`).
			WithArgs(wsID, "user-9", rbac.RoleMemberID, "owner-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE workspace_invitations`).
			WithArgs(now, "user-9", invID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		gotWS, gotRole, err := service.AcceptInvitation(context.Background(), "tok-1", "user-9")
		require.NoError(t, err)
		assert.Equal(t, wsID, gotWS)
		assert.Equal(t, rbac.RoleMemberID, gotRole)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing member cannot redeem an invitation", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()
		now := service.clock.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(acceptLockQuery).
			WithArgs("tok-5").
			WillReturnRows(sqlmock.NewRows(acceptLockColumns).
				AddRow(invID.String(), wsID.String(), rbac.RoleMemberID.String(), "pending", "owner-1", now.Add(time.Hour)))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM workspace_members`).
			WithArgs(wsID, "user-9").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		_, _, err := service.AcceptInvitation(context.Background(), "tok-5", "user-9")
		assert.ErrorIs(t, err, ErrAlreadyMember)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired invitation is persisted as expired before failing", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()
		now := service.clock.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(acceptLockQuery).
			WithArgs("tok-2").
			WillReturnRows(sqlmock.NewRows(acceptLockColumns).
				AddRow(invID.String(), wsID.String(), rbac.RoleMemberID.String(), "pending", "owner-1", now.Add(-time.Minute)))
		mock.ExpectExec(`UPDATE workspace_invitations SET status = 'expired'`).
			WithArgs(invID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, _, err := service.AcceptInvitation(context.Background(), "tok-2", "user-9")
		assert.ErrorIs(t, err, ErrInvitationExpired)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("accepted invitation cannot be redeemed again", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()
		now := service.clock.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(acceptLockQuery).
			WithArgs("tok-3").
			WillReturnRows(sqlmock.NewRows(acceptLockColumns).
				AddRow(invID.String(), wsID.String(), rbac.RoleMemberID.String(), "accepted", "owner-1", now.Add(time.Hour)))
		mock.ExpectRollback()

		_, _, err := service.AcceptInvitation(context.Background(), "tok-3", "user-9")
		assert.ErrorIs(t, err, ErrInvitationInvalid)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("revoked invitation cannot be redeemed", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()
		now := service.clock.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(acceptLockQuery).
			WithArgs("tok-4").
			WillReturnRows(sqlmock.NewRows(acceptLockColumns).
				AddRow(invID.String(), wsID.String(), rbac.RoleMemberID.String(), "revoked", "owner-1", now.Add(time.Hour)))
		mock.ExpectRollback()

		_, _, err := service.AcceptInvitation(context.Background(), "tok-4", "user-9")
		assert.ErrorIs(t, err, ErrInvitationInvalid)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown token", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(acceptLockQuery).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, _, err := service.AcceptInvitation(context.Background(), "nope", "user-9")
		assert.ErrorIs(t, err, ErrInvitationNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRevokeInvitation(t *testing.T) {
	wsID := uuid.New()
	invID := uuid.New()

	t.Run("pending invitation is revoked", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectExec(`UPDATE workspace_invitations`).
			WithArgs(invID, wsID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.RevokeInvitation(context.Background(), wsID, invID)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown invitation", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectExec(`UPDATE workspace_invitations`).
			WithArgs(invID, wsID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM workspace_invitations`).
			WithArgs(invID, wsID).
			WillReturnError(sql.ErrNoRows)

		err := service.RevokeInvitation(context.Background(), wsID, invID)
		assert.ErrorIs(t, err, ErrInvitationNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal invitation cannot be revoked", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectExec(`UPDATE workspace_invitations`).
			WithArgs(invID, wsID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status FROM workspace_invitations`).
			WithArgs(invID, wsID).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("accepted"))

		err := service.RevokeInvitation(context.Background(), wsID, invID)
		assert.ErrorIs(t, err, ErrInvitationInvalid)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExpireInvitations(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()

	now := service.clock.Now()
	mock.ExpectExec(`UPDATE workspace_invitations`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	expired, err := service.ExpireInvitations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), expired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInvitationPreview(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()

	t.Run("unknown token", func(t *testing.T) {
		mock.ExpectQuery(`FROM workspace_invitations i`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := service.GetInvitationPreview(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrInvitationNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success", func(t *testing.T) {
		wsID := uuid.New()
		expires := time.Now().Add(time.Hour)
		mock.ExpectQuery(`FROM workspace_invitations i`).
			WithArgs("tok").
			WillReturnRows(sqlmock.NewRows([]string{"workspace_id", "name", "email", "name", "status", "expires_at"}).
				AddRow(wsID.String(), "Platform Team", "dana@example.com", "Member", "pending", expires))

		preview, err := service.GetInvitationPreview(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, "Platform Team", preview.WorkspaceName)
		assert.Equal(t, "Member", preview.RoleName)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
