package workspaces

import "errors"

var (
	// ErrWorkspaceNotFound is returned when a workspace lookup
	// matches nothing.
	ErrWorkspaceNotFound = errors.New("workspaces: workspace not found")

	// ErrMemberNotFound is returned when the target user has no
	// membership in the workspace.
	ErrMemberNotFound = errors.New("workspaces: member not found")

	// ErrAlreadyMember is returned when adding a user who already
	// belongs to the workspace.
	ErrAlreadyMember = errors.New("workspaces: user is already a member")

	// ErrLastOwner is returned when removing the sole remaining
	// top-tier member would leave the workspace without one.
	ErrLastOwner = errors.New("workspaces: cannot remove the last owner")

	// ErrLastOwnerRoleChange is returned when demoting the sole
	// remaining top-tier member.
	ErrLastOwnerRoleChange = errors.New("workspaces: cannot change the role of the last owner")

	// ErrSelfAction is returned when a caller tries to remove or
	// demote themselves. These are rejected before any counting.
	ErrSelfAction = errors.New("workspaces: cannot perform this action on yourself")

	// ErrInvitationNotFound is returned when no invitation matches
	// the given ID or token.
	ErrInvitationNotFound = errors.New("workspaces: invitation not found")

	// ErrInvitationExpired is returned when accepting an invitation
	// past its expiry. The invitation is moved to the expired state
	// as a side effect.
	ErrInvitationExpired = errors.New("workspaces: invitation has expired")

	// ErrInvitationInvalid is returned when accepting or revoking an
	// invitation that already left the pending state.
	ErrInvitationInvalid = errors.New("workspaces: invitation is no longer pending")

	// ErrPendingInvitationExists is returned when inviting an email
	// that already has a pending invitation in the workspace.
	ErrPendingInvitationExists = errors.New("workspaces: a pending invitation for this email already exists")
)
