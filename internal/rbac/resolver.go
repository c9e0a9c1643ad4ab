package rbac

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-saas/meridian/internal/tenant"
)

// Resolver computes effective permission sets, serving from the tenant
// cache when possible. A cold cache and a warm cache always produce the
// same answer; the cache only changes how often the store is walked.
type Resolver struct {
	store  Reader
	cache  *PermissionCache
	logger *slog.Logger
	group  singleflight.Group
}

// NewResolver constructs a Resolver.
func NewResolver(store Reader, cache *PermissionCache, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, cache: cache, logger: logger}
}

// EffectivePermissions returns the distinct permission names granted to
// the user, sorted by name. A user with no roles yields an empty set.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return nil, err
	}
	key := CacheKey(tenantID, NamespaceUserPerms, userID)
	return r.resolve(ctx, key, func(ctx context.Context) ([]string, error) {
		return r.store.UserEffectivePermissions(ctx, userID)
	})
}

// RolePermissions returns one role's effective permission names.
func (r *Resolver) RolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return nil, err
	}
	key := CacheKey(tenantID, NamespaceRolePerms, roleID)
	return r.resolve(ctx, key, func(ctx context.Context) ([]string, error) {
		return r.store.RoleEffectivePermissions(ctx, roleID)
	})
}

// RoleUserCount reports how many active users effectively hold the
// role. Uncached; it feeds reporting, not the hot authorization path.
func (r *Resolver) RoleUserCount(ctx context.Context, roleID int64) (int64, error) {
	return r.store.RoleEffectiveUserCount(ctx, roleID)
}

// resolve answers from cache, collapsing concurrent misses for the same
// key into one store walk.
func (r *Resolver) resolve(ctx context.Context, key Key, load func(context.Context) ([]string, error)) ([]string, error) {
	if perms, ok := r.cache.GetPermissions(ctx, key); ok {
		return perms, nil
	}
	result := r.group.DoChan(key.String(), func() (any, error) {
		perms, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if perms == nil {
			perms = []string{}
		}
		r.cache.SetPermissions(ctx, key, perms)
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]string), nil
	}
}
