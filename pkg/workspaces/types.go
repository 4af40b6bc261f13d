package workspaces

import (
	"time"

	"github.com/google/uuid"
)

// Workspace is the top-level tenancy unit. Every membership, role
// assignment and invitation is scoped to one workspace.
type Workspace struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is one user's membership in one workspace. A user holds
// exactly one role per workspace.
type Member struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	RoleID      uuid.UUID `json:"role_id"`
	RoleName    string    `json:"role_name,omitempty"`
	InvitedBy   string    `json:"invited_by,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Invitation states. Pending is the only state transitions leave
// from; the other three are terminal.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationRevoked  = "revoked"
	InvitationExpired  = "expired"
)

// Invitation is an email-addressed offer to join a workspace with a
// given role. The token is the bearer credential for acceptance.
type Invitation struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	Email       string     `json:"email"`
	RoleID      uuid.UUID  `json:"role_id"`
	Token       string     `json:"-"`
	Status      string     `json:"status"`
	InvitedBy   string     `json:"invited_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy  string     `json:"accepted_by,omitempty"`
}

// InvitationPreview is the public view of an invitation returned for
// a bare token lookup, before the caller has authenticated.
type InvitationPreview struct {
	WorkspaceID   uuid.UUID `json:"workspace_id"`
	WorkspaceName string    `json:"workspace_name"`
	Email         string    `json:"email"`
	RoleName      string    `json:"role_name"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
}
