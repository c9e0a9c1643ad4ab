package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/meridian-saas/meridian/internal/users"
)

// Service is the mutation boundary of the RBAC engine. Every write runs
// in one transaction together with its cache invalidation, so a
// committed mutation is never observable next to a stale cache entry.
type Service struct {
	store       Store
	users       UserDirectory
	resolver    *Resolver
	invalidator *Invalidator
	logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, directory UserDirectory, resolver *Resolver, invalidator *Invalidator, logger *slog.Logger) *Service {
	return &Service{store: store, users: directory, resolver: resolver, invalidator: invalidator, logger: logger}
}

// RoleDetail combines a role with its resolved permission set and
// member count for the admin surface.
type RoleDetail struct {
	Role        Role
	Permissions []string
	UserCount   int64
}

// ListRoles returns non-deleted roles matching the filter.
func (s *Service) ListRoles(ctx context.Context, filter RoleFilter) ([]Role, error) {
	return s.store.ListRoles(ctx, filter)
}

// GetRole returns one role with its effective permissions and the
// number of active users holding it.
func (s *Service) GetRole(ctx context.Context, id int64) (RoleDetail, error) {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	if role.State == StateDeleted {
		return RoleDetail{}, &NotFoundError{Entity: "role", IDs: []int64{id}}
	}
	perms, err := s.resolver.RolePermissions(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	count, err := s.resolver.RoleUserCount(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	return RoleDetail{Role: role, Permissions: perms, UserCount: count}, nil
}

// ListPermissions returns non-deleted permissions matching the filter.
func (s *Service) ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error) {
	return s.store.ListPermissions(ctx, filter)
}

// UserEffectivePermissions exposes the resolver for profile endpoints.
func (s *Service) UserEffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s.resolver.EffectivePermissions(ctx, userID)
}

// CreateRole inserts a new role. Creation needs no invalidation:
// nothing can have cached an answer about a role that did not exist.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, validationf("role name required")
	}
	var role Role
	err := s.store.Mutate(ctx, func(ms MutationStore) error {
		var err error
		role, err = ms.CreateRole(ctx, name, strings.TrimSpace(description), false)
		if err != nil {
			return mapDuplicate(err, "role name already in use")
		}
		return s.invalidator.RoleCreated(ctx)
	})
	return role, err
}

// UpdateRole updates role metadata. System roles are immutable.
func (s *Service) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, validationf("role name required")
	}
	var role Role
	err := s.store.Mutate(ctx, func(ms MutationStore) error {
		existing, err := ms.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if existing.IsSystemRole {
			return &ForbiddenOperationError{RoleID: id, Operation: "update role"}
		}
		role, err = ms.UpdateRole(ctx, id, name, strings.TrimSpace(description))
		if err != nil {
			return mapDuplicate(err, "role name already in use")
		}
		return s.invalidator.RoleChanged(ctx, id)
	})
	return role, err
}

// DeleteRole soft-deletes a role. System roles cannot be deleted.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.store.Mutate(ctx, func(ms MutationStore) error {
		role, err := ms.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return &ForbiddenOperationError{RoleID: id, Operation: "delete role"}
		}
		if role.State == StateDeleted {
			return &NotFoundError{Entity: "role", IDs: []int64{id}}
		}
		if _, err := ms.SetRoleState(ctx, id, StateDeleted); err != nil {
			return err
		}
		return s.invalidator.RoleChanged(ctx, id)
	})
}

// RestoreRole brings a soft-deleted role back.
func (s *Service) RestoreRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := s.store.Mutate(ctx, func(ms MutationStore) error {
		existing, err := ms.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if existing.State != StateDeleted {
			return &NotFoundError{Entity: "deleted role", IDs: []int64{id}}
		}
		role, err = ms.SetRoleState(ctx, id, StateActive)
		if err != nil {
			return err
		}
		return s.invalidator.RoleChanged(ctx, id)
	})
	return role, err
}

// HardRemoveRole removes the role row entirely. Reachable from admin
// tooling only; the invalidation rule matches the soft path.
func (s *Service) HardRemoveRole(ctx context.Context, id int64) error {
	return s.store.Mutate(ctx, func(ms MutationStore) error {
		role, err := ms.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return &ForbiddenOperationError{RoleID: id, Operation: "remove role"}
		}
		if _, err := ms.DeleteRoleRow(ctx, id); err != nil {
			return err
		}
		return s.invalidator.RoleChanged(ctx, id)
	})
}

// CreatePermission inserts a new permission.
func (s *Service) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, validationf("permission name required")
	}
	var perm Permission
	err := s.store.Mutate(ctx, func(ms MutationStore) error {
		var err error
		perm, err = ms.CreatePermission(ctx, name, strings.TrimSpace(description))
		if err != nil {
			return mapDuplicate(err, "permission name already in use")
		}
		return s.invalidator.PermissionCreated(ctx)
	})
	return perm, err
}

// UpdatePermission updates permission metadata. Unlike creation, an
// update can flip visibility for any role referencing it, so the broad
// invalidation rule applies.
func (s *Service) UpdatePermission(ctx context.Context, id int64, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, validationf("permission name required")
	}
	var perm Permission
	err := s.store.Mutate(ctx, func(ms MutationStore) error {
		var err error
		perm, err = ms.UpdatePermission(ctx, id, name, strings.TrimSpace(description))
		if err != nil {
			return mapDuplicate(err, "permission name already in use")
		}
		return s.invalidator.PermissionChanged(ctx)
	})
	return perm, err
}

// DeletePermission soft-deletes a permission.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	return s.store.Mutate(ctx, func(ms MutationStore) error {
		existing, err := ms.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		if existing.State == StateDeleted {
			return &NotFoundError{Entity: "permission", IDs: []int64{id}}
		}
		if _, err := ms.SetPermissionState(ctx, id, StateDeleted); err != nil {
			return err
		}
		return s.invalidator.PermissionChanged(ctx)
	})
}

// RestorePermission brings a soft-deleted permission back.
func (s *Service) RestorePermission(ctx context.Context, id int64) (Permission, error) {
	var perm Permission
	err := s.store.Mutate(ctx, func(ms MutationStore) error {
		existing, err := ms.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		if existing.State != StateDeleted {
			return &NotFoundError{Entity: "deleted permission", IDs: []int64{id}}
		}
		perm, err = ms.SetPermissionState(ctx, id, StateActive)
		if err != nil {
			return err
		}
		return s.invalidator.PermissionChanged(ctx)
	})
	return perm, err
}

// HardRemovePermission removes the permission row entirely.
func (s *Service) HardRemovePermission(ctx context.Context, id int64) error {
	return s.store.Mutate(ctx, func(ms MutationStore) error {
		if _, err := ms.GetPermission(ctx, id); err != nil {
			return err
		}
		if _, err := ms.DeletePermissionRow(ctx, id); err != nil {
			return err
		}
		return s.invalidator.PermissionChanged(ctx)
	})
}

// AssignPermissionsToRole grants permissions to a role, restoring
// previously revoked associations instead of inserting duplicates.
func (s *Service) AssignPermissionsToRole(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := validateIDList("permission_ids", permissionIDs); err != nil {
		return err
	}
	return s.store.Mutate(ctx, func(ms MutationStore) error {
		role, err := s.visibleRole(ctx, ms, roleID)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return &ForbiddenOperationError{RoleID: roleID, Operation: "assign permissions"}
		}
		if err := s.requirePermissions(ctx, ms, permissionIDs); err != nil {
			return err
		}
		for _, pid := range permissionIDs {
			if _, err := ms.UpsertRolePermission(ctx, roleID, pid); err != nil {
				return err
			}
		}
		return s.invalidator.RolePermissionsChanged(ctx, roleID)
	})
}

// RevokePermissionsFromRole soft-deletes the role's associations with
// the named permissions. The permission rows themselves are untouched.
func (s *Service) RevokePermissionsFromRole(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := validateIDList("permission_ids", permissionIDs); err != nil {
		return err
	}
	return s.store.Mutate(ctx, func(ms MutationStore) error {
		role, err := s.visibleRole(ctx, ms, roleID)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return &ForbiddenOperationError{RoleID: roleID, Operation: "revoke permissions"}
		}
		if err := s.requirePermissions(ctx, ms, permissionIDs); err != nil {
			return err
		}
		if _, err := ms.RevokeRolePermissions(ctx, roleID, permissionIDs); err != nil {
			return err
		}
		return s.invalidator.RolePermissionsChanged(ctx, roleID)
	})
}

// AssignRolesToUser grants roles to a user. Only active, non-deleted
// roles can be assigned; anything else counts as missing.
func (s *Service) AssignRolesToUser(ctx context.Context, userID int64, roleIDs []int64) error {
	if err := validateIDList("role_ids", roleIDs); err != nil {
		return err
	}
	if err := s.requireActiveUser(ctx, userID); err != nil {
		return err
	}
	return s.store.Mutate(ctx, func(ms MutationStore) error {
		found, err := ms.RolesByIDs(ctx, roleIDs)
		if err != nil {
			return err
		}
		assignable := make(map[int64]struct{}, len(found))
		for _, role := range found {
			if role.State == StateActive {
				assignable[role.ID] = struct{}{}
			}
		}
		if missing := missingIDs(roleIDs, assignable); len(missing) > 0 {
			return &NotFoundError{Entity: "roles", IDs: missing}
		}
		for _, rid := range roleIDs {
			if _, err := ms.UpsertUserRole(ctx, userID, rid); err != nil {
				return err
			}
		}
		return s.invalidator.UserRolesChanged(ctx, userID)
	})
}

// RevokeRolesFromUser soft-deletes the user's assignments of the named
// roles.
func (s *Service) RevokeRolesFromUser(ctx context.Context, userID int64, roleIDs []int64) error {
	if err := validateIDList("role_ids", roleIDs); err != nil {
		return err
	}
	if err := s.requireActiveUser(ctx, userID); err != nil {
		return err
	}
	return s.store.Mutate(ctx, func(ms MutationStore) error {
		found, err := ms.RolesByIDs(ctx, roleIDs)
		if err != nil {
			return err
		}
		known := make(map[int64]struct{}, len(found))
		for _, role := range found {
			known[role.ID] = struct{}{}
		}
		if missing := missingIDs(roleIDs, known); len(missing) > 0 {
			return &NotFoundError{Entity: "roles", IDs: missing}
		}
		if _, err := ms.RevokeUserRoles(ctx, userID, roleIDs); err != nil {
			return err
		}
		return s.invalidator.UserRolesChanged(ctx, userID)
	})
}

// RemoveRolePermission hard-removes one association row. The
// invalidation rule is identical to the soft path; correctness must
// hold however the row disappears.
func (s *Service) RemoveRolePermission(ctx context.Context, roleID, permissionID int64) error {
	return s.store.Mutate(ctx, func(ms MutationStore) error {
		role, err := ms.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return &ForbiddenOperationError{RoleID: roleID, Operation: "remove role permission"}
		}
		removed, err := ms.DeleteRolePermissionRow(ctx, roleID, permissionID)
		if err != nil {
			return err
		}
		if removed == 0 {
			return &NotFoundError{Entity: "role permission", IDs: []int64{permissionID}}
		}
		return s.invalidator.RolePermissionsChanged(ctx, roleID)
	})
}

// RemoveUserRole hard-removes one assignment row.
func (s *Service) RemoveUserRole(ctx context.Context, userID, roleID int64) error {
	return s.store.Mutate(ctx, func(ms MutationStore) error {
		removed, err := ms.DeleteUserRoleRow(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if removed == 0 {
			return &NotFoundError{Entity: "user role", IDs: []int64{roleID}}
		}
		return s.invalidator.UserRolesChanged(ctx, userID)
	})
}

// EnsureSystemRole creates the named system role when missing. Used at
// startup to guarantee the built-in superuser role exists per tenant.
func (s *Service) EnsureSystemRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, validationf("role name required")
	}
	var role Role
	err := s.store.Mutate(ctx, func(ms MutationStore) error {
		var err error
		role, err = ms.CreateRole(ctx, name, strings.TrimSpace(description), true)
		if err == nil {
			return s.invalidator.RoleCreated(ctx)
		}
		if !errors.Is(err, ErrDuplicateName) {
			return err
		}
		role, err = ms.GetRoleByName(ctx, name)
		return err
	})
	return role, err
}

func (s *Service) visibleRole(ctx context.Context, ms MutationStore, roleID int64) (Role, error) {
	role, err := ms.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if role.State == StateDeleted {
		return Role{}, &NotFoundError{Entity: "role", IDs: []int64{roleID}}
	}
	return role, nil
}

func (s *Service) requirePermissions(ctx context.Context, ms MutationStore, ids []int64) error {
	found, err := ms.PermissionsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	known := make(map[int64]struct{}, len(found))
	for _, perm := range found {
		known[perm.ID] = struct{}{}
	}
	if missing := missingIDs(ids, known); len(missing) > 0 {
		return &NotFoundError{Entity: "permissions", IDs: missing}
	}
	return nil
}

func (s *Service) requireActiveUser(ctx context.Context, userID int64) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return &NotFoundError{Entity: "user", IDs: []int64{userID}}
		}
		return err
	}
	if !user.IsActive {
		return &NotFoundError{Entity: "active user", IDs: []int64{userID}}
	}
	return nil
}

func validateIDList(field string, ids []int64) error {
	if len(ids) == 0 {
		return validationf("%s must not be empty", field)
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return validationf("%s contains an invalid id", field)
		}
		if _, dup := seen[id]; dup {
			return validationf("%s contains duplicate id %d", field, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func missingIDs(requested []int64, known map[int64]struct{}) []int64 {
	var missing []int64
	for _, id := range requested {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func mapDuplicate(err error, msg string) error {
	if errors.Is(err, ErrDuplicateName) {
		return &ValidationError{Msg: msg}
	}
	return err
}
