package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridian-saas/meridian/internal/tenant"
)

// Invalidator evicts exactly the cache entries a mutation could have
// made stale. Mutation entry points call it explicitly inside their
// unit of work, as the last step before commit; an eviction failure
// therefore fails (and rolls back) the mutation rather than leaving a
// stale cache behind.
//
// Role- and permission-level changes fan out to every user in the
// tenant because role membership is not tracked in reverse; those are
// rare admin actions, so broad eviction is the deliberate tradeoff.
// User-role changes have a blast radius of exactly one user and evict
// narrowly.
type Invalidator struct {
	cache  *PermissionCache
	users  UserDirectory
	logger *slog.Logger
}

// NewInvalidator constructs an Invalidator.
func NewInvalidator(cache *PermissionCache, directory UserDirectory, logger *slog.Logger) *Invalidator {
	return &Invalidator{cache: cache, users: directory, logger: logger}
}

// PermissionCreated handles creation of a brand-new permission. Nothing
// can have cached an answer about an entity that did not exist, so this
// deliberately evicts nothing. It exists so every mutation path names
// its invalidation rule.
func (iv *Invalidator) PermissionCreated(ctx context.Context) error {
	return nil
}

// PermissionChanged handles any state or metadata change to an existing
// permission, including soft delete, restore and hard removal. The set
// of affected roles is unknown, so every user's entry in the tenant is
// evicted.
func (iv *Invalidator) PermissionChanged(ctx context.Context) error {
	return iv.evictAllUsers(ctx)
}

// RoleCreated handles creation of a brand-new role; see PermissionCreated.
func (iv *Invalidator) RoleCreated(ctx context.Context) error {
	return nil
}

// RoleChanged handles any change to an existing role, including soft
// delete, restore and hard removal: the role's own entry plus every
// user's entry.
func (iv *Invalidator) RoleChanged(ctx context.Context, roleID int64) error {
	if err := iv.evictRole(ctx, roleID); err != nil {
		return err
	}
	return iv.evictAllUsers(ctx)
}

// RolePermissionsChanged handles assignment, revocation, restore or
// hard removal of role-permission associations.
func (iv *Invalidator) RolePermissionsChanged(ctx context.Context, roleID int64) error {
	if err := iv.evictRole(ctx, roleID); err != nil {
		return err
	}
	return iv.evictAllUsers(ctx)
}

// UserRolesChanged handles assignment, revocation, restore or hard
// removal of user-role assignments. The affected set is exactly one
// user, so only that user's entry is evicted.
func (iv *Invalidator) UserRolesChanged(ctx context.Context, userID int64) error {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return err
	}
	return iv.cache.Delete(ctx, CacheKey(tenantID, NamespaceUserPerms, userID))
}

func (iv *Invalidator) evictRole(ctx context.Context, roleID int64) error {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return err
	}
	return iv.cache.Delete(ctx, CacheKey(tenantID, NamespaceRolePerms, roleID))
}

func (iv *Invalidator) evictAllUsers(ctx context.Context) error {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return err
	}
	ids, err := iv.users.ActiveUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("rbac: invalidation fan-out: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]Key, len(ids))
	for i, id := range ids {
		keys[i] = CacheKey(tenantID, NamespaceUserPerms, id)
	}
	if err := iv.cache.Delete(ctx, keys...); err != nil {
		return err
	}
	if iv.logger != nil {
		iv.logger.Debug("evicted user permission caches", slog.Int("count", len(keys)))
	}
	return nil
}
