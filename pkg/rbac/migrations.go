package rbac

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Migrate creates the catalog tables and seeds the system roles and
// permissions. Safe to run repeatedly. The DDL sticks to syntax both
// PostgreSQL and SQLite accept.
func Migrate(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS permissions (
			id UUID PRIMARY KEY,
			key TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS roles (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			is_system BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS role_permissions (
			role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			permission_id UUID NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
			PRIMARY KEY (role_id, permission_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run rbac migration: %w", err)
		}
	}

	if err := seedPermissions(db); err != nil {
		return err
	}
	if err := seedRoles(db); err != nil {
		return err
	}
	return seedGrants(db)
}

func seedPermissions(db *sql.DB) error {
	query := `
		INSERT INTO permissions (id, key, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`
	for _, key := range AllPermissionKeys {
		if _, err := db.Exec(query, uuid.New(), key, descriptionFor(key)); err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", key, err)
		}
	}
	return nil
}

func seedRoles(db *sql.DB) error {
	query := `
		INSERT INTO roles (id, name, description, is_system)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (id) DO NOTHING
	`
	seeds := []struct {
		id   interface{}
		name string
		desc string
	}{
		{RoleOwnerID, RoleOwner, "Full control of the workspace, including deletion and transfer"},
		{RoleAdminID, RoleAdmin, "Manages members, projects and tasks"},
		{RoleMemberID, RoleMember, "Creates tasks and manages their own"},
		{RoleViewerID, RoleViewer, "Read-only access"},
	}
	for _, s := range seeds {
		if _, err := db.Exec(query, s.id, s.name, s.desc); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", s.name, err)
		}
	}
	return nil
}

func seedGrants(db *sql.DB) error {
	query := `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, p.id FROM permissions p WHERE p.key = $2
		ON CONFLICT DO NOTHING
	`
	for roleID, keys := range SeedGrants() {
		for _, key := range keys {
			if _, err := db.Exec(query, roleID, key); err != nil {
				return fmt.Errorf("failed to seed grant %s: %w", key, err)
			}
		}
	}
	return nil
}

func descriptionFor(key string) string {
	if desc, ok := permissionDescriptions[key]; ok {
		return desc
	}
	return ""
}

var permissionDescriptions = map[string]string{
	PermWorkspaceView:     "View workspace details",
	PermWorkspaceEdit:     "Edit workspace name and settings",
	PermWorkspaceDelete:   "Delete the workspace",
	PermWorkspaceTransfer: "Transfer workspace ownership",
	PermMemberView:        "View the member list",
	PermMemberInvite:      "Invite new members",
	PermMemberRemove:      "Remove members",
	PermMemberRoleChange:  "Change member roles",
	PermProjectView:       "View projects",
	PermProjectCreate:     "Create projects",
	PermProjectEdit:       "Edit projects",
	PermProjectDelete:     "Delete projects",
	PermTaskView:          "View tasks",
	PermTaskCreate:        "Create tasks",
	PermTaskEdit:          "Edit any task",
	PermTaskDelete:        "Delete any task",
	PermTaskAssign:        "Assign tasks",
	PermTaskStatusChange:  "Change task status",
	PermTaskOwnEdit:       "Edit tasks you created",
	PermTaskOwnDelete:     "Delete tasks you created",
	PermAdminAccess:       "Administrative access",
}
