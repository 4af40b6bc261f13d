package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// GrantSet is a member's resolved grants inside one workspace.
type GrantSet struct {
	RoleID uuid.UUID `json:"role_id"`
	Keys   []string  `json:"keys"`
}

// Has reports whether the set contains the given key.
func (g *GrantSet) Has(key string) bool {
	for _, k := range g.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// IsAdminTier reports whether the role bypasses individual checks.
// Only the seeded Owner and Admin roles qualify.
func IsAdminTier(roleID uuid.UUID) bool {
	return roleID == RoleOwnerID || roleID == RoleAdminID
}

// Evaluator answers permission checks for a user inside a workspace.
type Evaluator interface {
	// Permissions returns the caller's resolved grant set, or
	// ErrNotMember when the user has no membership.
	Permissions(ctx context.Context, workspaceID uuid.UUID, userID string) (*GrantSet, error)

	// HasPermission reports whether the user holds the given key.
	// Owner and Admin tier members pass every check.
	HasPermission(ctx context.Context, workspaceID uuid.UUID, userID, key string) (bool, error)

	// Require is HasPermission folded into an error: nil when the
	// check passes, a PermissionDeniedError when it does not.
	Require(ctx context.Context, workspaceID uuid.UUID, userID, key string) error

	// Invalidate drops any cached grants for the user, called after
	// membership mutations.
	Invalidate(ctx context.Context, workspaceID uuid.UUID, userID string)
}

// HasAny reports whether the user holds at least one of the keys.
// Admin-tier members always pass.
func HasAny(ctx context.Context, ev Evaluator, workspaceID uuid.UUID, userID string, keys ...string) (bool, error) {
	grants, err := ev.Permissions(ctx, workspaceID, userID)
	if err != nil {
		return false, err
	}
	if IsAdminTier(grants.RoleID) {
		return true, nil
	}
	for _, key := range keys {
		if grants.Has(key) {
			return true, nil
		}
	}
	return false, nil
}

// HasAll reports whether the user holds every one of the keys.
// Admin-tier members always pass.
func HasAll(ctx context.Context, ev Evaluator, workspaceID uuid.UUID, userID string, keys ...string) (bool, error) {
	grants, err := ev.Permissions(ctx, workspaceID, userID)
	if err != nil {
		return false, err
	}
	if IsAdminTier(grants.RoleID) {
		return true, nil
	}
	for _, key := range keys {
		if !grants.Has(key) {
			return false, nil
		}
	}
	return true, nil
}

// memberRoleID resolves the role a user holds in a workspace.
func memberRoleID(ctx context.Context, db *sql.DB, workspaceID uuid.UUID, userID string) (uuid.UUID, error) {
	query := `SELECT role_id FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`
	var roleID uuid.UUID
	err := db.QueryRowContext(ctx, query, workspaceID, userID).Scan(&roleID)
	if err == sql.ErrNoRows {
		return uuid.Nil, ErrNotMember
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to resolve member role: %w", err)
	}
	return roleID, nil
}

// JoinEvaluator resolves grants through the catalog tables and keeps
// the result in a cache until a membership mutation invalidates it.
type JoinEvaluator struct {
	db    *sql.DB
	cache PermissionCache
}

// NewJoinEvaluator creates a join-strategy evaluator. cache may be
// nil, in which case every check hits the database.
func NewJoinEvaluator(db *sql.DB, cache PermissionCache) *JoinEvaluator {
	return &JoinEvaluator{db: db, cache: cache}
}

func (e *JoinEvaluator) Permissions(ctx context.Context, workspaceID uuid.UUID, userID string) (*GrantSet, error) {
	if e.cache != nil {
		if grants, ok := e.cache.Get(ctx, workspaceID, userID); ok {
			return grants, nil
		}
	}

	roleID, err := memberRoleID(ctx, e.db, workspaceID, userID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT p.key
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.key ASC
	`
	rows, err := e.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	defer rows.Close()

	grants := &GrantSet{RoleID: roleID}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan permission key: %w", err)
		}
		grants.Keys = append(grants.Keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.Set(ctx, workspaceID, userID, grants)
	}
	return grants, nil
}

func (e *JoinEvaluator) HasPermission(ctx context.Context, workspaceID uuid.UUID, userID, key string) (bool, error) {
	grants, err := e.Permissions(ctx, workspaceID, userID)
	if err != nil {
		return false, err
	}
	if IsAdminTier(grants.RoleID) {
		return true, nil
	}
	return grants.Has(key), nil
}

func (e *JoinEvaluator) Require(ctx context.Context, workspaceID uuid.UUID, userID, key string) error {
	ok, err := e.HasPermission(ctx, workspaceID, userID, key)
	if err != nil {
		return err
	}
	if !ok {
		return Denied(key)
	}
	return nil
}

func (e *JoinEvaluator) Invalidate(ctx context.Context, workspaceID uuid.UUID, userID string) {
	if e.cache != nil {
		e.cache.Invalidate(ctx, workspaceID, userID)
	}
}

// StaticEvaluator resolves grants from the fixed in-code catalog.
// Only the four system roles exist in this mode; the role a member
// holds still comes from the workspace_members table.
type StaticEvaluator struct {
	db *sql.DB
}

// NewStaticEvaluator creates a static-strategy evaluator.
func NewStaticEvaluator(db *sql.DB) *StaticEvaluator {
	return &StaticEvaluator{db: db}
}

var (
	staticOnce sync.Once
	staticSets map[uuid.UUID][]string
)

// staticGrants builds the per-tier key sets once.
func staticGrants() map[uuid.UUID][]string {
	staticOnce.Do(func() {
		staticSets = SeedGrants()
	})
	return staticSets
}

func (e *StaticEvaluator) Permissions(ctx context.Context, workspaceID uuid.UUID, userID string) (*GrantSet, error) {
	roleID, err := memberRoleID(ctx, e.db, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	keys, ok := staticGrants()[roleID]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return &GrantSet{RoleID: roleID, Keys: keys}, nil
}

func (e *StaticEvaluator) HasPermission(ctx context.Context, workspaceID uuid.UUID, userID, key string) (bool, error) {
	grants, err := e.Permissions(ctx, workspaceID, userID)
	if err != nil {
		return false, err
	}
	if IsAdminTier(grants.RoleID) {
		return true, nil
	}
	return grants.Has(key), nil
}

func (e *StaticEvaluator) Require(ctx context.Context, workspaceID uuid.UUID, userID, key string) error {
	ok, err := e.HasPermission(ctx, workspaceID, userID, key)
	if err != nil {
		return err
	}
	if !ok {
		return Denied(key)
	}
	return nil
}

// Invalidate is a no-op: static grants never change at runtime.
func (e *StaticEvaluator) Invalidate(ctx context.Context, workspaceID uuid.UUID, userID string) {}
