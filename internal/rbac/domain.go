// Package rbac implements tenant-scoped role based access control:
// role and permission records, the effective-permission resolver, the
// redis-backed permission cache and its invalidation rules, and the
// authorization gate consumed by request handlers.
package rbac

import "time"

// State models the lifecycle of a record or association row. A single
// enum replaces the old is_active/is_deleted flag pair so the
// inconsistent active-and-deleted combination cannot be stored.
type State string

const (
	// StateActive rows participate in permission resolution.
	StateActive State = "active"
	// StateRevoked rows are deactivated but not deleted.
	StateRevoked State = "revoked"
	// StateDeleted rows are soft-deleted and can be restored.
	StateDeleted State = "deleted"
)

// Effective reports whether the row counts during resolution. Every hop
// of the user->role->permission walk applies this same predicate.
func (s State) Effective() bool {
	return s == StateActive
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateRevoked, StateDeleted:
		return true
	}
	return false
}

// Permission represents an atomic capability. Identity is Name; ID is
// the stable reference used by association rows.
type Permission struct {
	ID          int64
	Name        string
	Description string
	State       State
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Role represents a named permission grouping.
type Role struct {
	ID           int64
	Name         string
	Description  string
	IsSystemRole bool
	State        State
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RolePermission ties a permission to a role. The association row has a
// lifecycle of its own: revoking a permission from a role flips this
// row's state, never the permission's.
type RolePermission struct {
	ID           int64
	RoleID       int64
	PermissionID int64
	State        State
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRole links a user to a role, again with an independent lifecycle.
type UserRole struct {
	ID        int64
	UserID    int64
	RoleID    int64
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoleFilter narrows role listings.
type RoleFilter struct {
	// State filters by lifecycle state; empty means non-deleted rows.
	State State
	// Search matches name or description, case-insensitive.
	Search string
	// IncludeSystem keeps system roles in the listing. Defaults to true
	// at the handler layer.
	IncludeSystem bool
}

// PermissionFilter narrows permission listings.
type PermissionFilter struct {
	State  State
	Search string
}
