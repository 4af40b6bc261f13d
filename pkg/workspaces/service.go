package workspaces

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/psychon7/vibe-kanban/pkg/auth"
	"github.com/psychon7/vibe-kanban/pkg/notify"
	"github.com/psychon7/vibe-kanban/pkg/observability"
	"github.com/psychon7/vibe-kanban/pkg/rbac"
)

// Store is the persistence surface the service drives. Implemented by
// SQLService.
type Store interface {
	CreateWorkspace(ctx context.Context, name, creator string, ownerRoleID uuid.UUID) (*Workspace, error)
	GetWorkspace(ctx context.Context, id uuid.UUID) (*Workspace, error)
	ListWorkspacesForUser(ctx context.Context, userID string) ([]*Workspace, error)
	UpdateWorkspace(ctx context.Context, id uuid.UUID, name string) (*Workspace, error)
	DeleteWorkspace(ctx context.Context, id uuid.UUID) error

	ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]*Member, error)
	GetMember(ctx context.Context, workspaceID uuid.UUID, userID string) (*Member, error)
	AddMember(ctx context.Context, workspaceID uuid.UUID, userID string, roleID uuid.UUID, invitedBy string) error
	UpdateMemberRole(ctx context.Context, workspaceID uuid.UUID, userID string, newRoleID, topRoleID uuid.UUID) error
	RemoveMember(ctx context.Context, workspaceID uuid.UUID, userID string, topRoleID uuid.UUID) error

	CreateInvitation(ctx context.Context, workspaceID uuid.UUID, email string, roleID uuid.UUID, invitedBy string, ttl time.Duration) (*Invitation, error)
	ListInvitations(ctx context.Context, workspaceID uuid.UUID, status string) ([]*Invitation, error)
	GetInvitationPreview(ctx context.Context, token string) (*InvitationPreview, error)
	RevokeInvitation(ctx context.Context, workspaceID, invitationID uuid.UUID) error
	AcceptInvitation(ctx context.Context, token, userID string) (uuid.UUID, uuid.UUID, error)
	ExpireInvitations(ctx context.Context) (int64, error)
}

// RoleCatalog is the slice of the rbac store the service needs.
type RoleCatalog interface {
	GetRole(ctx context.Context, id uuid.UUID) (*rbac.Role, error)
}

// ServiceConfig tunes the orchestration layer.
type ServiceConfig struct {
	// TopRoleID is the role whose holders the last-owner invariant
	// protects. Defaults to the seeded Owner role.
	TopRoleID uuid.UUID

	// InvitationTTL is how long new invitations stay acceptable.
	InvitationTTL time.Duration

	// BaseURL is the public URL prefix for invitation accept links.
	BaseURL string

	// Ownership resolves the own-variant permission keys. Defaults
	// to AlwaysOwner, the single-tenant behavior.
	Ownership rbac.OwnershipChecker
}

// Service layers permission checks, the self-action guards and
// post-commit notification on top of the store. Every mutation runs
// through here; handlers never touch the store directly.
type Service struct {
	store     Store
	roles     RoleCatalog
	evaluator rbac.Evaluator
	notifier  notify.Notifier
	logger    *observability.Logger
	metrics   *observability.Metrics
	cfg       ServiceConfig
}

// NewService wires the orchestration layer. notifier and metrics may
// be nil.
func NewService(store Store, roles RoleCatalog, evaluator rbac.Evaluator,
	notifier notify.Notifier, logger *observability.Logger,
	metrics *observability.Metrics, cfg ServiceConfig) *Service {

	if cfg.TopRoleID == uuid.Nil {
		cfg.TopRoleID = rbac.RoleOwnerID
	}
	if cfg.InvitationTTL <= 0 {
		cfg.InvitationTTL = DefaultInvitationTTL
	}
	if cfg.Ownership == nil {
		cfg.Ownership = rbac.AlwaysOwner{}
	}
	return &Service{
		store:     store,
		roles:     roles,
		evaluator: evaluator,
		notifier:  notifier,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// require runs a permission check and records its outcome.
func (s *Service) require(ctx context.Context, workspaceID uuid.UUID, userID, key string) error {
	err := s.evaluator.Require(ctx, workspaceID, userID, key)
	if s.metrics != nil {
		outcome := "allowed"
		if err != nil {
			outcome = "denied"
		}
		s.metrics.PermissionChecksTotal.WithLabelValues(key, outcome).Inc()
	}
	return err
}

func (s *Service) recordMutation(op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	s.metrics.MembershipMutationsTotal.WithLabelValues(op, outcome).Inc()
}

func (s *Service) recordTransition(to string) {
	if s.metrics != nil {
		s.metrics.InvitationTransitionsTotal.WithLabelValues(to).Inc()
	}
}

// CreateWorkspace creates a workspace with the caller enrolled in the
// top-tier role.
func (s *Service) CreateWorkspace(ctx context.Context, caller *auth.Principal, name string) (*Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("workspace name is required")
	}
	ws, err := s.store.CreateWorkspace(ctx, name, caller.ID, s.cfg.TopRoleID)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{
		"workspace_id": ws.ID,
		"user_id":      caller.ID,
	}).Info("workspace created")
	return ws, nil
}

// ListWorkspaces returns the caller's workspaces.
func (s *Service) ListWorkspaces(ctx context.Context, caller *auth.Principal) ([]*Workspace, error) {
	return s.store.ListWorkspacesForUser(ctx, caller.ID)
}

// GetWorkspace returns a workspace the caller can view.
func (s *Service) GetWorkspace(ctx context.Context, caller *auth.Principal, workspaceID uuid.UUID) (*Workspace, error) {
	if err := s.require(ctx, workspaceID, caller.ID, rbac.PermWorkspaceView); err != nil {
		return nil, err
	}
	return s.store.GetWorkspace(ctx, workspaceID)
}

// UpdateWorkspace renames a workspace.
func (s *Service) UpdateWorkspace(ctx context.Context, caller *auth.Principal, workspaceID uuid.UUID, name string) (*Workspace, error) {
	if err := s.require(ctx, workspaceID, caller.ID, rbac.PermWorkspaceEdit); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("workspace name is required")
	}
	return s.store.UpdateWorkspace(ctx, workspaceID, name)
}

// DeleteWorkspace removes a workspace and everything scoped to it.
func (s *Service) DeleteWorkspace(ctx context.Context, caller *auth.Principal, workspaceID uuid.UUID) error {
	if err := s.require(ctx, workspaceID, caller.ID, rbac.PermWorkspaceDelete); err != nil {
		return err
	}
	if err := s.store.DeleteWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"workspace_id": workspaceID,
		"user_id":      caller.ID,
	}).Info("workspace deleted")
	return nil
}

// ListMembers returns the workspace's members.
func (s *Service) ListMembers(ctx context.Context, caller *auth.Principal, workspaceID uuid.UUID) ([]*Member, error) {
	if err := s.require(ctx, workspaceID, caller.ID, rbac.PermMemberView); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, workspaceID)
}

// GetMember returns one membership in a workspace whose member list
// the caller can view.
func (s *Service) GetMember(ctx context.Context, caller *auth.Principal, workspaceID uuid.UUID, userID string) (*Member, error) {
	if err := s.require(ctx, workspaceID, caller.ID, rbac.PermMemberView); err != nil {
		return nil, err
	}
	return s.store.GetMember(ctx, workspaceID, userID)
}

// AddMember enrolls a user directly, without the invitation flow.
func (s *Service) AddMember(ctx context.Context, caller *auth.Principal, workspaceID uuid.UUID, userID string, roleID uuid.UUID) (err error) {
	defer func() { s.recordMutation("add", err) }()

	if err = s.require(ctx, workspaceID, caller.ID, rbac.PermMemberInvite); err != nil {
		return err
	}
	if _, err = s.roles.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err = s.store.AddMember(ctx, workspaceID, userID, roleID, caller.ID); err != nil {
		return err
	}
	s.evaluator.Invalidate(ctx, workspaceID, userID)
	return nil
}

// UpdateMemberRole changes a member's role.
//
// A caller demoting themselves out of the admin tier is rejected
// before anything else: even a workspace with several owners will not
// let you strip your own access by accident. The last-owner check for
// other targets happens inside the store transaction, under row
// locks.
func (s *Service) UpdateMemberRole(ctx context.Context, caller *auth.Principal, workspaceID uuid.UUID, targetUserID string, roleID uuid.UUID) (err error) {
	defer func() { s.recordMutation("role_change", err) }()

	if caller.ID == targetUserID && !rbac.IsAdminTier(roleID) {
		return ErrSelfAction
	}
	if err = s.require(ctx, workspaceID, caller.ID, rbac.PermMemberRoleChange); err != nil {
		return err
	}
	if _, err = s.roles.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err = s.store.UpdateMemberRole(ctx, workspaceID, targetUserID, roleID, s.cfg.TopRoleID); err != nil {
		return err
	}
	s.evaluator.Invalidate(ctx, workspaceID, targetUserID)
	return nil
}

// RemoveMember removes a member. Self-removal is always rejected;
// leaving a workspace you own means transferring or deleting it
// instead.
func (s *Service) RemoveMember(ctx context.Context, caller *auth.Principal, workspaceID uuid.UUID, targetUserID string) (err error) {
	defer func() { s.recordMutation("remove", err) }()

	if caller.ID == targetUserID {
		return ErrSelfAction
	}
	if err = s.require(ctx, workspaceID, caller.ID, rbac.PermMemberRemove); err != nil {
		return err
	}
	if err = s.store.RemoveMember(ctx, workspaceID, targetUserID, s.cfg.TopRoleID); err != nil {
		return err
	}
	s.evaluator.Invalidate(ctx, workspaceID, targetUserID)
	return nil
}

// EffectivePermissions returns the caller's resolved grants in the
// workspace.
func (s *Service) EffectivePermissions(ctx context.Context, caller *auth.Principal, workspaceID uuid.UUID) (*rbac.GrantSet, error) {
	return s.evaluator.Permissions(ctx, workspaceID, caller.ID)
}

// CanAccessResource reports whether the caller may apply key to one
// specific resource. Holding the broad key is always enough; holding
// only its own-variant requires the configured ownership checker to
// confirm the caller created the resource. A blank resource skips the
// own-variant path entirely.
func (s *Service) CanAccessResource(ctx context.Context, caller *auth.Principal, workspaceID uuid.UUID, key, resource string, resourceID uuid.UUID) (bool, error) {
	ownKey := rbac.OwnVariant(key)
	if resource == "" {
		ownKey = ""
	}
	return rbac.CanAccess(ctx, s.evaluator, s.cfg.Ownership, workspaceID, caller.ID, key, ownKey, resource, resourceID)
}

// InviteMember creates a pending invitation and sends the
// notification after the row is committed.
func (s *Service) InviteMember(ctx context.Context, caller *auth.Principal, workspaceID uuid.UUID, email string, roleID uuid.UUID) (*Invitation, error) {
	if err := s.require(ctx, workspaceID, caller.ID, rbac.PermMemberInvite); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("a valid email address is required")
	}
	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	inv, err := s.store.CreateInvitation(ctx, workspaceID, email, roleID, caller.ID, s.cfg.InvitationTTL)
	if err != nil {
		return nil, err
	}
	s.recordTransition(InvitationPending)

	if s.notifier != nil {
		// Fire and forget: the invitation row is committed, delivery
		// failures only get logged.
		payload := notify.Invitation{
			WorkspaceName: ws.Name,
			Email:         inv.Email,
			RoleName:      role.Name,
			InvitedBy:     caller.Email,
			AcceptURL:     s.acceptURL(inv.Token),
		}
		go func() {
			defer observability.RecoverPanic(s.logger, "invitation notification")
			sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.notifier.SendInvitation(sendCtx, payload); err != nil {
				s.logger.WithError(err).WithField("email", payload.Email).
					Warn("failed to send invitation notification")
			}
		}()
	}
	return inv, nil
}

// ListInvitations returns the workspace's invitations, optionally
// filtered by state.
func (s *Service) ListInvitations(ctx context.Context, caller *auth.Principal, workspaceID uuid.UUID, status string) ([]*Invitation, error) {
	if err := s.require(ctx, workspaceID, caller.ID, rbac.PermMemberInvite); err != nil {
		return nil, err
	}
	return s.store.ListInvitations(ctx, workspaceID, status)
}

// RevokeInvitation cancels a pending invitation.
func (s *Service) RevokeInvitation(ctx context.Context, caller *auth.Principal, workspaceID, invitationID uuid.UUID) error {
	if err := s.require(ctx, workspaceID, caller.ID, rbac.PermMemberInvite); err != nil {
		return err
	}
	if err := s.store.RevokeInvitation(ctx, workspaceID, invitationID); err != nil {
		return err
	}
	s.recordTransition(InvitationRevoked)
	return nil
}

// PreviewInvitation resolves a bare token to its public metadata. No
// authentication: the token is the credential.
func (s *Service) PreviewInvitation(ctx context.Context, token string) (*InvitationPreview, error) {
	return s.store.GetInvitationPreview(ctx, token)
}

// AcceptInvitation redeems a token for the caller and returns the
// resulting membership.
func (s *Service) AcceptInvitation(ctx context.Context, caller *auth.Principal, token string) (*Member, error) {
	workspaceID, _, err := s.store.AcceptInvitation(ctx, token, caller.ID)
	if err != nil {
		if err == ErrInvitationExpired {
			s.recordTransition(InvitationExpired)
		}
		return nil, err
	}
	s.recordTransition(InvitationAccepted)
	s.evaluator.Invalidate(ctx, workspaceID, caller.ID)

	s.logger.WithFields(map[string]interface{}{
		"workspace_id": workspaceID,
		"user_id":      caller.ID,
	}).Info("invitation accepted")
	return s.store.GetMember(ctx, workspaceID, caller.ID)
}

func (s *Service) acceptURL(token string) string {
	base := strings.TrimRight(s.cfg.BaseURL, "/")
	return base + "/invitations/" + token + "/accept"
}
