package workspaces

import (
	"database/sql"
	"fmt"
)

// Migrate creates the workspace, membership and invitation tables.
// Safe to run repeatedly. The rbac migrations must run first because
// role_id columns reference roles(id). The DDL sticks to syntax both
// PostgreSQL and SQLite accept.
func Migrate(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_members (
			workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			role_id UUID NOT NULL REFERENCES roles(id),
			invited_by TEXT NOT NULL DEFAULT '',
			joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (workspace_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS workspace_invitations (
			id UUID PRIMARY KEY,
			workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			email TEXT NOT NULL,
			role_id UUID NOT NULL REFERENCES roles(id),
			token TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'pending',
			invited_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP NOT NULL,
			accepted_at TIMESTAMP,
			accepted_by TEXT
		)`,
		// One live invitation per address per workspace. Partial so
		// that revoked or expired rows never block a re-invite.
		`CREATE UNIQUE INDEX IF NOT EXISTS workspace_invitations_pending_email_idx
			ON workspace_invitations (workspace_id, email)
			WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS workspace_invitations_status_expiry_idx
			ON workspace_invitations (status, expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run workspaces migration: %w", err)
		}
	}
	return nil
}
