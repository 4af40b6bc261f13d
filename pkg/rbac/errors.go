package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrRoleNotFound is returned when a role lookup matches nothing.
	ErrRoleNotFound = errors.New("rbac: role not found")

	// ErrPermissionNotFound is returned when a permission lookup
	// matches nothing.
	ErrPermissionNotFound = errors.New("rbac: permission not found")

	// ErrSystemRole is returned on attempts to modify or delete a
	// seeded system role.
	ErrSystemRole = errors.New("rbac: system roles cannot be modified or deleted")

	// ErrRoleInUse is returned when deleting a role that memberships
	// or pending invitations still reference.
	ErrRoleInUse = errors.New("rbac: role is still assigned to members or invitations")

	// ErrNotMember is returned when evaluating permissions for a user
	// with no membership in the workspace.
	ErrNotMember = errors.New("rbac: user is not a member of the workspace")
)

// PermissionDeniedError reports a failed permission check, carrying
// the key that was required so handlers can surface it.
type PermissionDeniedError struct {
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("rbac: permission denied: missing %s", e.Permission)
}

// Denied builds a PermissionDeniedError for the given key.
func Denied(key string) error {
	return &PermissionDeniedError{Permission: key}
}

// IsDenied reports whether err is a permission denial.
func IsDenied(err error) bool {
	var pd *PermissionDeniedError
	return errors.As(err, &pd)
}
