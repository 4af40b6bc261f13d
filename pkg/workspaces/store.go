package workspaces

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/psychon7/vibe-kanban/pkg/storage"
)

// SQLService implements workspace, membership and invitation
// persistence over database/sql, against PostgreSQL or SQLite.
//
// The mutation paths that guard the last-owner invariant never check
// and write in separate transactions: each one opens a single
// transaction, locks the rows it is about to reason about with
// SELECT ... FOR UPDATE, counts, and only then writes. Two racing
// removals of the final two owners therefore serialize, and the
// second one fails. SQLite's parser has no FOR UPDATE; there the
// clause is omitted and the single-connection pool serializes the
// transactions instead.
type SQLService struct {
	db      *sql.DB
	clock   Clock
	rowLock string
}

// NewSQLService creates a store for the given driver. clock drives
// invitation expiry decisions and defaults to the system clock when
// nil.
func NewSQLService(db *sql.DB, driver string, clock Clock) *SQLService {
	if clock == nil {
		clock = SystemClock{}
	}
	rowLock := " FOR UPDATE"
	if driver == storage.DriverSQLite {
		rowLock = ""
	}
	return &SQLService{db: db, clock: clock, rowLock: rowLock}
}

// CreateWorkspace inserts a workspace and enrolls the creator with
// the given role in the same transaction, so a workspace can never
// exist without at least one top-tier member.
func (s *SQLService) CreateWorkspace(ctx context.Context, name, creator string, ownerRoleID uuid.UUID) (*Workspace, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ws := &Workspace{}
	query := `
		INSERT INTO workspaces (id, name, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, name, created_by, created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, query, uuid.New(), name, creator).Scan(
		&ws.ID, &ws.Name, &ws.CreatedBy, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	memberQuery := `
		INSERT INTO workspace_members (workspace_id, user_id, role_id)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.ExecContext(ctx, memberQuery, ws.ID, creator, ownerRoleID); err != nil {
		return nil, fmt.Errorf("failed to enroll workspace creator: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit workspace creation: %w", err)
	}
	return ws, nil
}

// GetWorkspace retrieves a workspace by ID.
func (s *SQLService) GetWorkspace(ctx context.Context, id uuid.UUID) (*Workspace, error) {
	query := `
		SELECT id, name, created_by, created_at, updated_at
		FROM workspaces
		WHERE id = $1
	`
	ws := &Workspace{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ws.ID, &ws.Name, &ws.CreatedBy, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return ws, nil
}

// ListWorkspacesForUser returns the workspaces the user belongs to,
// newest first.
func (s *SQLService) ListWorkspacesForUser(ctx context.Context, userID string) ([]*Workspace, error) {
	query := `
		SELECT w.id, w.name, w.created_by, w.created_at, w.updated_at
		FROM workspaces w
		JOIN workspace_members wm ON wm.workspace_id = w.id
		WHERE wm.user_id = $1
		ORDER BY w.created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*Workspace
	for rows.Next() {
		ws := &Workspace{}
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.CreatedBy, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// UpdateWorkspace renames a workspace.
func (s *SQLService) UpdateWorkspace(ctx context.Context, id uuid.UUID, name string) (*Workspace, error) {
	query := `
		UPDATE workspaces
		SET name = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
		RETURNING id, name, created_by, created_at, updated_at
	`
	ws := &Workspace{}
	err := s.db.QueryRowContext(ctx, query, name, id).Scan(
		&ws.ID, &ws.Name, &ws.CreatedBy, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update workspace: %w", err)
	}
	return ws, nil
}

// DeleteWorkspace removes a workspace; memberships and invitations
// cascade.
func (s *SQLService) DeleteWorkspace(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrWorkspaceNotFound
	}
	return nil
}

// ListMembers returns the members of a workspace with their role
// names, earliest joiner first.
func (s *SQLService) ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]*Member, error) {
	query := `
		SELECT wm.workspace_id, wm.user_id, wm.role_id, r.name, wm.invited_by, wm.joined_at, wm.updated_at
		FROM workspace_members wm
		JOIN roles r ON r.id = wm.role_id
		WHERE wm.workspace_id = $1
		ORDER BY wm.joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.RoleID, &m.RoleName,
			&m.InvitedBy, &m.JoinedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetMember retrieves one membership.
func (s *SQLService) GetMember(ctx context.Context, workspaceID uuid.UUID, userID string) (*Member, error) {
	query := `
		SELECT wm.workspace_id, wm.user_id, wm.role_id, r.name, wm.invited_by, wm.joined_at, wm.updated_at
		FROM workspace_members wm
		JOIN roles r ON r.id = wm.role_id
		WHERE wm.workspace_id = $1 AND wm.user_id = $2
	`
	m := &Member{}
	err := s.db.QueryRowContext(ctx, query, workspaceID, userID).Scan(
		&m.WorkspaceID, &m.UserID, &m.RoleID, &m.RoleName,
		&m.InvitedBy, &m.JoinedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// AddMember enrolls a user directly. Returns ErrAlreadyMember when a
// membership already exists; existing roles are never silently
// overwritten on this path.
func (s *SQLService) AddMember(ctx context.Context, workspaceID uuid.UUID, userID string, roleID uuid.UUID, invitedBy string) error {
	query := `
		INSERT INTO workspace_members (workspace_id, user_id, role_id, invited_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, user_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, workspaceID, userID, roleID, invitedBy)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyMember
	}
	return nil
}

// UpdateMemberRole changes a member's role inside one transaction.
// Demoting out of the top tier locks every top-tier row first and
// fails with ErrLastOwnerRoleChange when the target is the only one.
// Assigning the role the member already holds is an idempotent no-op.
func (s *SQLService) UpdateMemberRole(ctx context.Context, workspaceID uuid.UUID, userID string, newRoleID, topRoleID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	currentRoleID, err := s.lockMemberRole(ctx, tx, workspaceID, userID)
	if err != nil {
		return err
	}

	if currentRoleID == newRoleID {
		return tx.Commit()
	}

	if currentRoleID == topRoleID {
		owners, err := s.lockTopTier(ctx, tx, workspaceID, topRoleID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return ErrLastOwnerRoleChange
		}
	}

	query := `
		UPDATE workspace_members
		SET role_id = $1, updated_at = CURRENT_TIMESTAMP
		WHERE workspace_id = $2 AND user_id = $3
	`
	if _, err := tx.ExecContext(ctx, query, newRoleID, workspaceID, userID); err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	return tx.Commit()
}

// RemoveMember deletes a membership inside one transaction, locking
// the top tier first when the target belongs to it.
func (s *SQLService) RemoveMember(ctx context.Context, workspaceID uuid.UUID, userID string, topRoleID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	currentRoleID, err := s.lockMemberRole(ctx, tx, workspaceID, userID)
	if err != nil {
		return err
	}

	if currentRoleID == topRoleID {
		owners, err := s.lockTopTier(ctx, tx, workspaceID, topRoleID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return ErrLastOwner
		}
	}

	query := `DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`
	if _, err := tx.ExecContext(ctx, query, workspaceID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return tx.Commit()
}

// lockMemberRole locks the target membership row and returns its
// current role.
func (s *SQLService) lockMemberRole(ctx context.Context, tx *sql.Tx, workspaceID uuid.UUID, userID string) (uuid.UUID, error) {
	query := `
		SELECT role_id
		FROM workspace_members
		WHERE workspace_id = $1 AND user_id = $2` + s.rowLock
	var roleID uuid.UUID
	err := tx.QueryRowContext(ctx, query, workspaceID, userID).Scan(&roleID)
	if err == sql.ErrNoRows {
		return uuid.Nil, ErrMemberNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to lock member: %w", err)
	}
	return roleID, nil
}

// lockTopTier locks every top-tier membership row in the workspace
// and returns how many there are. The locks hold until commit, so a
// concurrent mutation of the same tier waits behind this one.
func (s *SQLService) lockTopTier(ctx context.Context, tx *sql.Tx, workspaceID, topRoleID uuid.UUID) (int, error) {
	query := `
		SELECT user_id
		FROM workspace_members
		WHERE workspace_id = $1 AND role_id = $2` + s.rowLock
	rows, err := tx.QueryContext(ctx, query, workspaceID, topRoleID)
	if err != nil {
		return 0, fmt.Errorf("failed to lock top-tier members: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return 0, fmt.Errorf("failed to scan top-tier member: %w", err)
		}
		count++
	}
	return count, rows.Err()
}
