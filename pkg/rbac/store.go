package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store provides access to the role and permission catalog tables.
type Store struct {
	db *sql.DB
}

// NewStore creates a catalog store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListRoles returns every role, system roles first, then by name.
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	query := `
		SELECT id, name, description, is_system, created_at, updated_at
		FROM roles
		ORDER BY is_system DESC, name ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role := &Role{}
		if err := rows.Scan(&role.ID, &role.Name, &role.Description,
			&role.IsSystem, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole retrieves a role by ID.
func (s *Store) GetRole(ctx context.Context, id uuid.UUID) (*Role, error) {
	query := `
		SELECT id, name, description, is_system, created_at, updated_at
		FROM roles
		WHERE id = $1
	`
	role := &Role{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&role.ID, &role.Name,
		&role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by its unique name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := `
		SELECT id, name, description, is_system, created_at, updated_at
		FROM roles
		WHERE name = $1
	`
	role := &Role{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(&role.ID, &role.Name,
		&role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role by name: %w", err)
	}
	return role, nil
}

// CreateRole inserts a custom (non-system) role.
func (s *Store) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	query := `
		INSERT INTO roles (id, name, description, is_system)
		VALUES ($1, $2, $3, FALSE)
		RETURNING id, name, description, is_system, created_at, updated_at
	`
	role := &Role{}
	err := s.db.QueryRowContext(ctx, query, uuid.New(), name, description).Scan(
		&role.ID, &role.Name, &role.Description, &role.IsSystem,
		&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("role %q already exists", name)
		}
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return role, nil
}

// UpdateRole changes the name and/or description of a custom role.
// System roles are immutable.
func (s *Store) UpdateRole(ctx context.Context, id uuid.UUID, name, description *string) (*Role, error) {
	existing, err := s.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsSystem {
		return nil, ErrSystemRole
	}

	query := `
		UPDATE roles
		SET name = COALESCE($1, name),
		    description = COALESCE($2, description),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
		RETURNING id, name, description, is_system, created_at, updated_at
	`
	role := &Role{}
	err = s.db.QueryRowContext(ctx, query, name, description, id).Scan(
		&role.ID, &role.Name, &role.Description, &role.IsSystem,
		&role.CreatedAt, &role.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	return role, nil
}

// DeleteRole removes a custom role. Deletion is blocked while any
// membership or pending invitation still references the role.
func (s *Store) DeleteRole(ctx context.Context, id uuid.UUID) error {
	existing, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemRole
	}

	var refs int
	countQuery := `
		SELECT (SELECT COUNT(*) FROM workspace_members WHERE role_id = $1)
		     + (SELECT COUNT(*) FROM workspace_invitations WHERE role_id = $1 AND status = 'pending')
	`
	if err := s.db.QueryRowContext(ctx, countQuery, id).Scan(&refs); err != nil {
		return fmt.Errorf("failed to count role references: %w", err)
	}
	if refs > 0 {
		return ErrRoleInUse
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// ListPermissions returns the full permission catalog ordered by key.
func (s *Store) ListPermissions(ctx context.Context) ([]*Permission, error) {
	query := `
		SELECT id, key, description, created_at
		FROM permissions
		ORDER BY key ASC
	`
	return s.queryPermissions(ctx, query)
}

// ListPermissionsByPrefix returns catalog entries whose key starts
// with the given resource prefix, e.g. "member." or "task.".
func (s *Store) ListPermissionsByPrefix(ctx context.Context, prefix string) ([]*Permission, error) {
	query := `
		SELECT id, key, description, created_at
		FROM permissions
		WHERE key LIKE $1
		ORDER BY key ASC
	`
	return s.queryPermissions(ctx, query, prefix+"%")
}

// GetPermission retrieves a catalog entry by ID.
func (s *Store) GetPermission(ctx context.Context, id uuid.UUID) (*Permission, error) {
	query := `
		SELECT id, key, description, created_at
		FROM permissions
		WHERE id = $1
	`
	perm := &Permission{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&perm.ID, &perm.Key,
		&perm.Description, &perm.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return perm, nil
}

// GetPermissionByKey retrieves a single catalog entry.
func (s *Store) GetPermissionByKey(ctx context.Context, key string) (*Permission, error) {
	query := `
		SELECT id, key, description, created_at
		FROM permissions
		WHERE key = $1
	`
	perm := &Permission{}
	err := s.db.QueryRowContext(ctx, query, key).Scan(&perm.ID, &perm.Key,
		&perm.Description, &perm.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return perm, nil
}

// RolePermissionKeys returns the keys granted to a role, sorted.
func (s *Store) RolePermissionKeys(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	query := `
		SELECT p.key
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.key ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan permission key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RoleHasPermission reports whether the role is granted the key.
func (s *Store) RoleHasPermission(ctx context.Context, roleID uuid.UUID, key string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM role_permissions rp
			JOIN permissions p ON p.id = rp.permission_id
			WHERE rp.role_id = $1 AND p.key = $2
		)
	`
	var granted bool
	if err := s.db.QueryRowContext(ctx, query, roleID, key).Scan(&granted); err != nil {
		return false, fmt.Errorf("failed to check role permission: %w", err)
	}
	return granted, nil
}

// GrantPermission attaches a catalog entry to a custom role.
func (s *Store) GrantPermission(ctx context.Context, roleID uuid.UUID, key string) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}

	query := `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, p.id FROM permissions p WHERE p.key = $2
		ON CONFLICT DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, roleID, key)
	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Either the key does not exist or the grant is already there.
		if _, err := s.GetPermissionByKey(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// RevokePermission detaches a catalog entry from a custom role.
func (s *Store) RevokePermission(ctx context.Context, roleID uuid.UUID, key string) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}

	query := `
		DELETE FROM role_permissions
		WHERE role_id = $1
		  AND permission_id = (SELECT id FROM permissions WHERE key = $2)
	`
	if _, err := s.db.ExecContext(ctx, query, roleID, key); err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	return nil
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...interface{}) ([]*Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		perm := &Permission{}
		if err := rows.Scan(&perm.ID, &perm.Key, &perm.Description, &perm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// isUniqueViolation reports whether err is a PostgreSQL unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	// SQLite surfaces constraint failures as plain text.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
