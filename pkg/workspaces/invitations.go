package workspaces

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DefaultInvitationTTL is how long an invitation stays acceptable.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// generateToken returns a cryptographically random invitation token.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CreateInvitation inserts a pending invitation. A partial unique
// index on (workspace_id, email) WHERE status = 'pending' enforces
// one live invitation per address; a violation surfaces as
// ErrPendingInvitationExists.
func (s *SQLService) CreateInvitation(ctx context.Context, workspaceID uuid.UUID, email string, roleID uuid.UUID, invitedBy string, ttl time.Duration) (*Invitation, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	now := s.clock.Now()

	inv := &Invitation{}
	query := `
		INSERT INTO workspace_invitations (id, workspace_id, email, role_id, token, status, invited_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8)
		RETURNING id, workspace_id, email, role_id, token, status, invited_by, created_at, expires_at
	`
	err = s.db.QueryRowContext(ctx, query, uuid.New(), workspaceID,
		strings.ToLower(email), roleID, token, invitedBy, now, now.Add(ttl)).Scan(
		&inv.ID, &inv.WorkspaceID, &inv.Email, &inv.RoleID, &inv.Token,
		&inv.Status, &inv.InvitedBy, &inv.CreatedAt, &inv.ExpiresAt)
	if err != nil {
		if isPendingConflict(err) {
			return nil, ErrPendingInvitationExists
		}
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations returns a workspace's invitations, newest first.
// status filters to one state when non-empty.
func (s *SQLService) ListInvitations(ctx context.Context, workspaceID uuid.UUID, status string) ([]*Invitation, error) {
	query := `
		SELECT id, workspace_id, email, role_id, token, status, invited_by, created_at, expires_at, accepted_at, accepted_by
		FROM workspace_invitations
		WHERE workspace_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, workspaceID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// GetInvitationPreview returns the public view of an invitation for a
// bare token lookup. The token itself is the only credential needed.
func (s *SQLService) GetInvitationPreview(ctx context.Context, token string) (*InvitationPreview, error) {
	query := `
		SELECT i.workspace_id, w.name, i.email, r.name, i.status, i.expires_at
		FROM workspace_invitations i
		JOIN workspaces w ON w.id = i.workspace_id
		JOIN roles r ON r.id = i.role_id
		WHERE i.token = $1
	`
	p := &InvitationPreview{}
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&p.WorkspaceID, &p.WorkspaceName, &p.Email, &p.RoleName, &p.Status, &p.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return p, nil
}

// RevokeInvitation moves a pending invitation to revoked. Terminal
// states never transition again, so revoking an accepted, expired or
// already revoked invitation fails.
func (s *SQLService) RevokeInvitation(ctx context.Context, workspaceID, invitationID uuid.UUID) error {
	query := `
		UPDATE workspace_invitations
		SET status = 'revoked'
		WHERE id = $1 AND workspace_id = $2 AND status = 'pending'
	`
	result, err := s.db.ExecContext(ctx, query, invitationID, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var status string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM workspace_invitations WHERE id = $1 AND workspace_id = $2`,
			invitationID, workspaceID).Scan(&status)
		if err == sql.ErrNoRows {
			return ErrInvitationNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check invitation status: %w", err)
		}
		return ErrInvitationInvalid
	}
	return nil
}

// AcceptInvitation redeems a token for the authenticated user. The
// whole transition runs in one transaction with the invitation row
// locked:
//
//   - an unknown token fails with ErrInvitationNotFound
//   - a non-pending invitation fails with ErrInvitationInvalid
//   - a pending invitation past its expiry is moved to expired, that
//     write is committed, and the call fails with ErrInvitationExpired
//   - a caller who is already a member fails with ErrAlreadyMember,
//     leaving the invitation pending
//   - otherwise the membership is inserted and the invitation becomes
//     accepted
//
// Returns the workspace joined and the role granted.
func (s *SQLService) AcceptInvitation(ctx context.Context, token, userID string) (uuid.UUID, uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, workspace_id, role_id, status, invited_by, expires_at
		FROM workspace_invitations
		WHERE token = $1` + s.rowLock
	var (
		id, workspaceID, roleID uuid.UUID
		status, invitedBy       string
		expiresAt               time.Time
	)
	err = tx.QueryRowContext(ctx, query, token).Scan(&id, &workspaceID, &roleID, &status, &invitedBy, &expiresAt)
	if err == sql.ErrNoRows {
		return uuid.Nil, uuid.Nil, ErrInvitationNotFound
	}
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("failed to lock invitation: %w", err)
	}

	if status != InvitationPending {
		return uuid.Nil, uuid.Nil, ErrInvitationInvalid
	}

	if s.clock.Now().After(expiresAt) {
		update := `UPDATE workspace_invitations SET status = 'expired' WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, id); err != nil {
			return uuid.Nil, uuid.Nil, fmt.Errorf("failed to expire invitation: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return uuid.Nil, uuid.Nil, fmt.Errorf("failed to commit expiry: %w", err)
		}
		return uuid.Nil, uuid.Nil, ErrInvitationExpired
	}

	var existing int
	memberProbe := `SELECT COUNT(*) FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`
	if err := tx.QueryRowContext(ctx, memberProbe, workspaceID, userID).Scan(&existing); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if existing > 0 {
		return uuid.Nil, uuid.Nil, ErrAlreadyMember
	}

	memberQuery := `
		INSERT INTO workspace_members (workspace_id, user_id, role_id, invited_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, user_id) DO UPDATE
		SET role_id = EXCLUDED.role_id, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := tx.ExecContext(ctx, memberQuery, workspaceID, userID, roleID, invitedBy); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("failed to enroll member: %w", err)
	}

	acceptQuery := `
		UPDATE workspace_invitations
		SET status = 'accepted', accepted_at = $1, accepted_by = $2
		WHERE id = $3
	`
	if _, err := tx.ExecContext(ctx, acceptQuery, s.clock.Now(), userID, id); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("failed to mark invitation accepted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("failed to commit acceptance: %w", err)
	}
	return workspaceID, roleID, nil
}

// ExpireInvitations moves every pending invitation past its expiry to
// the expired state and returns how many rows changed. The sweeper
// runs this on a schedule; lazy expiry in AcceptInvitation covers the
// window between runs.
func (s *SQLService) ExpireInvitations(ctx context.Context) (int64, error) {
	query := `
		UPDATE workspace_invitations
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1
	`
	result, err := s.db.ExecContext(ctx, query, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

func scanInvitation(rows *sql.Rows) (*Invitation, error) {
	inv := &Invitation{}
	var acceptedAt sql.NullTime
	var acceptedBy sql.NullString
	if err := rows.Scan(&inv.ID, &inv.WorkspaceID, &inv.Email, &inv.RoleID,
		&inv.Token, &inv.Status, &inv.InvitedBy, &inv.CreatedAt, &inv.ExpiresAt,
		&acceptedAt, &acceptedBy); err != nil {
		return nil, fmt.Errorf("failed to scan invitation: %w", err)
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	if acceptedBy.Valid {
		inv.AcceptedBy = acceptedBy.String
	}
	return inv, nil
}

// isPendingConflict reports whether err is the unique violation from
// the pending-invitation partial index.
func isPendingConflict(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
