package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// OwnershipChecker decides whether a user created a given resource.
// It backs the "*.own.*" permission keys.
type OwnershipChecker interface {
	IsOwner(ctx context.Context, userID string, resource string, resourceID uuid.UUID) (bool, error)
}

// AlwaysOwner treats every caller as the owner of every resource.
// This is the explicit single-tenant mode: ownership distinctions are
// meaningless when one person operates the whole install, and choosing
// this checker documents that rather than hiding it in a default.
type AlwaysOwner struct{}

func (AlwaysOwner) IsOwner(ctx context.Context, userID string, resource string, resourceID uuid.UUID) (bool, error) {
	return true, nil
}

// FieldOwner checks a created_by column on the resource's table. The
// table set is fixed at construction so resource names from requests
// can never reach SQL identifiers.
type FieldOwner struct {
	db     *sql.DB
	tables map[string]string
}

// NewFieldOwner creates a checker over the given resource -> table
// mapping, e.g. {"workspace": "workspaces"}.
func NewFieldOwner(db *sql.DB, tables map[string]string) *FieldOwner {
	return &FieldOwner{db: db, tables: tables}
}

func (f *FieldOwner) IsOwner(ctx context.Context, userID string, resource string, resourceID uuid.UUID) (bool, error) {
	table, ok := f.tables[resource]
	if !ok {
		return false, fmt.Errorf("unknown resource type %q", resource)
	}
	query := fmt.Sprintf(`SELECT created_by FROM %s WHERE id = $1`, table)
	var createdBy sql.NullString
	err := f.db.QueryRowContext(ctx, query, resourceID).Scan(&createdBy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check ownership: %w", err)
	}
	return createdBy.Valid && createdBy.String == userID, nil
}

// CanAccess combines a broad permission with its own-resource variant:
// the check passes when the caller holds the broad key, or holds the
// own key and created the resource.
func CanAccess(ctx context.Context, ev Evaluator, owner OwnershipChecker,
	workspaceID uuid.UUID, userID, key, ownKey, resource string, resourceID uuid.UUID) (bool, error) {

	ok, err := ev.HasPermission(ctx, workspaceID, userID, key)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	if ownKey == "" || owner == nil {
		return false, nil
	}
	ok, err = ev.HasPermission(ctx, workspaceID, userID, ownKey)
	if err != nil || !ok {
		return false, err
	}
	return owner.IsOwner(ctx, userID, resource, resourceID)
}
