package rbac

import (
	"time"

	"github.com/google/uuid"
)

// Permission is a single grantable capability, identified by a dotted
// key such as "member.invite".
type Permission struct {
	ID          uuid.UUID `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role is a named bundle of permissions. System roles are seeded at
// migration time with fixed IDs and cannot be deleted.
type Role struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Fixed IDs for the seeded system roles. Migrations insert these
// exact UUIDs so that references stay stable across environments.
var (
	RoleOwnerID  = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	RoleAdminID  = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	RoleMemberID = uuid.MustParse("00000000-0000-0000-0000-000000000003")
	RoleViewerID = uuid.MustParse("00000000-0000-0000-0000-000000000004")
)

// System role names.
const (
	RoleOwner  = "Owner"
	RoleAdmin  = "Admin"
	RoleMember = "Member"
	RoleViewer = "Viewer"
)

// Permission keys.
const (
	PermWorkspaceView     = "workspace.view"
	PermWorkspaceEdit     = "workspace.edit"
	PermWorkspaceDelete   = "workspace.delete"
	PermWorkspaceTransfer = "workspace.transfer"

	PermMemberView       = "member.view"
	PermMemberInvite     = "member.invite"
	PermMemberRemove     = "member.remove"
	PermMemberRoleChange = "member.role.change"

	PermProjectView   = "project.view"
	PermProjectCreate = "project.create"
	PermProjectEdit   = "project.edit"
	PermProjectDelete = "project.delete"

	PermTaskView         = "task.view"
	PermTaskCreate       = "task.create"
	PermTaskEdit         = "task.edit"
	PermTaskDelete       = "task.delete"
	PermTaskAssign       = "task.assign"
	PermTaskStatusChange = "task.status.change"

	// Own-resource variants, honored only together with an
	// OwnershipChecker that confirms the caller created the resource.
	PermTaskOwnEdit   = "task.own.edit"
	PermTaskOwnDelete = "task.own.delete"

	PermAdminAccess = "admin.access"
)

// AllPermissionKeys lists every key in the catalog, in seed order.
var AllPermissionKeys = []string{
	PermWorkspaceView,
	PermWorkspaceEdit,
	PermWorkspaceDelete,
	PermWorkspaceTransfer,
	PermMemberView,
	PermMemberInvite,
	PermMemberRemove,
	PermMemberRoleChange,
	PermProjectView,
	PermProjectCreate,
	PermProjectEdit,
	PermProjectDelete,
	PermTaskView,
	PermTaskCreate,
	PermTaskEdit,
	PermTaskDelete,
	PermTaskAssign,
	PermTaskStatusChange,
	PermTaskOwnEdit,
	PermTaskOwnDelete,
	PermAdminAccess,
}

// memberKeys is the grant set for the Member tier: view everything,
// create tasks, manage tasks you created.
var memberKeys = []string{
	PermWorkspaceView,
	PermMemberView,
	PermProjectView,
	PermTaskView,
	PermTaskCreate,
	PermTaskStatusChange,
	PermTaskOwnEdit,
	PermTaskOwnDelete,
}

// OwnVariant maps a broad permission key to its own-resource variant,
// or "" for keys that have none.
func OwnVariant(key string) string {
	switch key {
	case PermTaskEdit:
		return PermTaskOwnEdit
	case PermTaskDelete:
		return PermTaskOwnDelete
	}
	return ""
}

// viewerKeys is the grant set for the Viewer tier: read-only.
var viewerKeys = []string{
	PermWorkspaceView,
	PermMemberView,
	PermProjectView,
	PermTaskView,
}

// adminKeys is everything except workspace deletion and ownership
// transfer, which stay reserved for the Owner tier.
func adminKeys() []string {
	keys := make([]string, 0, len(AllPermissionKeys))
	for _, k := range AllPermissionKeys {
		if k == PermWorkspaceDelete || k == PermWorkspaceTransfer {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// SeedGrants returns the role -> permission key grants installed by
// the migrations for the join strategy. Owner holds the full catalog.
func SeedGrants() map[uuid.UUID][]string {
	return map[uuid.UUID][]string{
		RoleOwnerID:  append([]string(nil), AllPermissionKeys...),
		RoleAdminID:  adminKeys(),
		RoleMemberID: append([]string(nil), memberKeys...),
		RoleViewerID: append([]string(nil), viewerKeys...),
	}
}
