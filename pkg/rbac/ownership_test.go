package rbac

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEvaluator answers checks from a fixed key set.
type stubEvaluator struct {
	keys map[string]bool
}

func (s *stubEvaluator) Permissions(ctx context.Context, workspaceID uuid.UUID, userID string) (*GrantSet, error) {
	return &GrantSet{RoleID: RoleMemberID}, nil
}

func (s *stubEvaluator) HasPermission(ctx context.Context, workspaceID uuid.UUID, userID, key string) (bool, error) {
	return s.keys[key], nil
}

func (s *stubEvaluator) Require(ctx context.Context, workspaceID uuid.UUID, userID, key string) error {
	if !s.keys[key] {
		return Denied(key)
	}
	return nil
}

func (s *stubEvaluator) Invalidate(ctx context.Context, workspaceID uuid.UUID, userID string) {}

func TestFieldOwner(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	owner := NewFieldOwner(db, map[string]string{"workspace": "workspaces"})
	resourceID := uuid.New()
	query := regexp.QuoteMeta(`SELECT created_by FROM workspaces WHERE id = $1`)

	t.Run("creator matches", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(resourceID).
			WillReturnRows(sqlmock.NewRows([]string{"created_by"}).AddRow("user-1"))

		ok, err := owner.IsOwner(context.Background(), "user-1", "workspace", resourceID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("different creator", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(resourceID).
			WillReturnRows(sqlmock.NewRows([]string{"created_by"}).AddRow("user-2"))

		ok, err := owner.IsOwner(context.Background(), "user-1", "workspace", resourceID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing row is not owned", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(resourceID).
			WillReturnRows(sqlmock.NewRows([]string{"created_by"}))

		ok, err := owner.IsOwner(context.Background(), "user-1", "workspace", resourceID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unmapped resource type errors", func(t *testing.T) {
		_, err := owner.IsOwner(context.Background(), "user-1", "secret", resourceID)
		require.Error(t, err)
	})
}

func TestCanAccess(t *testing.T) {
	ctx := context.Background()
	wsID := uuid.New()
	taskID := uuid.New()

	t.Run("broad key passes without an ownership lookup", func(t *testing.T) {
		ev := &stubEvaluator{keys: map[string]bool{PermTaskEdit: true}}
		ok, err := CanAccess(ctx, ev, nil, wsID, "user-1", PermTaskEdit, PermTaskOwnEdit, "task", taskID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("own key passes only for the creator", func(t *testing.T) {
		ev := &stubEvaluator{keys: map[string]bool{PermTaskOwnEdit: true}}
		ok, err := CanAccess(ctx, ev, AlwaysOwner{}, wsID, "user-1", PermTaskEdit, PermTaskOwnEdit, "task", taskID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("neither key denies", func(t *testing.T) {
		ev := &stubEvaluator{keys: map[string]bool{}}
		ok, err := CanAccess(ctx, ev, AlwaysOwner{}, wsID, "user-1", PermTaskEdit, PermTaskOwnEdit, "task", taskID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("own key without a checker denies", func(t *testing.T) {
		ev := &stubEvaluator{keys: map[string]bool{PermTaskOwnEdit: true}}
		ok, err := CanAccess(ctx, ev, nil, wsID, "user-1", PermTaskEdit, PermTaskOwnEdit, "task", taskID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
