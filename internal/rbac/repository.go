package rbac

import (
	"context"

	"github.com/meridian-saas/meridian/internal/users"
)

// Reader defines the read queries the resolver and the admin surface
// need. Implementations are already scoped to one tenant partition.
type Reader interface {
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context, filter RoleFilter) ([]Role, error)
	RolesByIDs(ctx context.Context, ids []int64) ([]Role, error)

	GetPermission(ctx context.Context, id int64) (Permission, error)
	ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error)
	PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error)

	// UserEffectivePermissions walks user_roles -> roles ->
	// role_permissions -> permissions in a single query, keeping only
	// rows whose state is active at every hop.
	UserEffectivePermissions(ctx context.Context, userID int64) ([]string, error)
	RoleEffectivePermissions(ctx context.Context, roleID int64) ([]string, error)
	RoleEffectiveUserCount(ctx context.Context, roleID int64) (int64, error)
}

// MutationStore extends Reader with the writes available inside one
// atomic unit of work.
type MutationStore interface {
	Reader

	CreateRole(ctx context.Context, name, description string, system bool) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	SetRoleState(ctx context.Context, id int64, state State) (Role, error)
	DeleteRoleRow(ctx context.Context, id int64) (int64, error)

	CreatePermission(ctx context.Context, name, description string) (Permission, error)
	UpdatePermission(ctx context.Context, id int64, name, description string) (Permission, error)
	SetPermissionState(ctx context.Context, id int64, state State) (Permission, error)
	DeletePermissionRow(ctx context.Context, id int64) (int64, error)

	// UpsertRolePermission inserts the association or restores the
	// existing row, preserving its id. Never produces duplicates.
	UpsertRolePermission(ctx context.Context, roleID, permissionID int64) (RolePermission, error)
	RevokeRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (int64, error)
	DeleteRolePermissionRow(ctx context.Context, roleID, permissionID int64) (int64, error)

	UpsertUserRole(ctx context.Context, userID, roleID int64) (UserRole, error)
	RevokeUserRoles(ctx context.Context, userID int64, roleIDs []int64) (int64, error)
	DeleteUserRoleRow(ctx context.Context, userID, roleID int64) (int64, error)
}

// Store is the persistence port for the RBAC engine.
type Store interface {
	Reader

	// Mutate runs fn inside a single transaction. The unit of work
	// includes cache invalidation: fn returns only after the writes
	// and the matching evictions succeed, so a failed eviction rolls
	// the mutation back.
	Mutate(ctx context.Context, fn func(MutationStore) error) error
}

// UserDirectory is the external identity collaborator: the gate and
// the invalidation fan-out only need these two reads.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (users.User, error)
	ActiveUserIDs(ctx context.Context) ([]int64, error)
}
