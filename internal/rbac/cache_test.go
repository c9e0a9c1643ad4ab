package rbac

import (
	"context"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCache(t *testing.T) (*PermissionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPermissionCache(client, time.Minute, slog.Default(), nil), mr
}

func TestCacheKeyFormat(t *testing.T) {
	key := CacheKey("acme", NamespaceUserPerms, 42)
	if got := key.String(); got != "tenant:acme:user_perms:42" {
		t.Fatalf("unexpected key %q", got)
	}
	key = CacheKey("globex", NamespaceRolePerms, 7)
	if got := key.String(); got != "tenant:globex:role_perms:7" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newCache(t)
	ctx := context.Background()
	key := CacheKey("acme", NamespaceUserPerms, 1)

	if _, ok := cache.GetPermissions(ctx, key); ok {
		t.Fatal("expected miss on empty cache")
	}
	cache.SetPermissions(ctx, key, []string{"docs.edit", "docs.view"})
	perms, ok := cache.GetPermissions(ctx, key)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if len(perms) != 2 || perms[0] != "docs.edit" {
		t.Fatalf("got %v", perms)
	}
}

func TestCacheEntriesExpire(t *testing.T) {
	cache, mr := newCache(t)
	ctx := context.Background()
	key := CacheKey("acme", NamespaceUserPerms, 1)

	cache.SetPermissions(ctx, key, []string{"docs.edit"})
	mr.FastForward(2 * time.Minute)
	if _, ok := cache.GetPermissions(ctx, key); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestCacheCorruptEntryIsAMiss(t *testing.T) {
	cache, mr := newCache(t)
	ctx := context.Background()
	key := CacheKey("acme", NamespaceUserPerms, 1)

	if err := mr.Set(key.String(), "not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok := cache.GetPermissions(ctx, key); ok {
		t.Fatal("corrupt payload must read as a miss")
	}
}

func TestCacheDeleteReturnsBackendErrors(t *testing.T) {
	cache, mr := newCache(t)
	ctx := context.Background()
	key := CacheKey("acme", NamespaceUserPerms, 1)

	cache.SetPermissions(ctx, key, []string{"docs.edit"})
	if err := cache.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := cache.GetPermissions(ctx, key); ok {
		t.Fatal("expected miss after delete")
	}

	mr.Close()
	cache.SetPermissions(ctx, key, []string{"docs.edit"}) // swallowed
	if err := cache.Delete(ctx, key); err == nil {
		t.Fatal("expected delete to surface backend failure")
	}
}

func TestCacheNilClientAlwaysMisses(t *testing.T) {
	cache := NewPermissionCache(nil, time.Minute, slog.Default(), nil)
	ctx := context.Background()
	key := CacheKey("acme", NamespaceUserPerms, 1)

	cache.SetPermissions(ctx, key, []string{"docs.edit"})
	if _, ok := cache.GetPermissions(ctx, key); ok {
		t.Fatal("nil client must miss")
	}
	if err := cache.Delete(ctx, key); err != nil {
		t.Fatalf("nil client delete must be a no-op: %v", err)
	}
}
