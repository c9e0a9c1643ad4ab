package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/meridian-saas/meridian/internal/observability"
	"github.com/meridian-saas/meridian/internal/users"
)

// Gate is the authorization decision point. It is read-only: callers
// reject unauthenticated principals before asking it anything.
type Gate struct {
	users    UserDirectory
	resolver *Resolver
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewGate constructs a Gate.
func NewGate(directory UserDirectory, resolver *Resolver, logger *slog.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{users: directory, resolver: resolver, logger: logger, metrics: metrics}
}

// HasPermission reports whether the user holds the named permission.
// Unknown permission names simply yield false.
func (g *Gate) HasPermission(ctx context.Context, userID int64, name string) (bool, error) {
	return g.decide(ctx, userID, []string{name}, hasAnyPermission)
}

// HasAnyPermission reports whether the user holds at least one of names.
// An empty list grants nothing.
func (g *Gate) HasAnyPermission(ctx context.Context, userID int64, names []string) (bool, error) {
	return g.decide(ctx, userID, names, hasAnyPermission)
}

// HasAllPermissions reports whether the user holds every one of names.
func (g *Gate) HasAllPermissions(ctx context.Context, userID int64, names []string) (bool, error) {
	return g.decide(ctx, userID, names, hasAllPermissions)
}

func (g *Gate) decide(ctx context.Context, userID int64, names []string, check func([]string, []string) bool) (bool, error) {
	required := normalizePermissions(names)
	if len(required) == 0 {
		// Each variant answers the empty list itself: any-of nothing
		// is false, all-of nothing is vacuously true.
		return check(nil, nil), nil
	}
	user, err := g.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			g.metrics.Decision(false)
			return false, nil
		}
		return false, err
	}
	if !user.IsActive {
		g.metrics.Decision(false)
		return false, nil
	}
	// Superusers bypass resolution entirely.
	if user.IsSuperuser {
		g.metrics.Decision(true)
		return true, nil
	}
	granted, err := g.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := check(granted, required)
	g.metrics.Decision(allowed)
	if !allowed && g.logger != nil {
		g.logger.Debug("permission denied",
			slog.Int64("user_id", userID),
			slog.String("required", strings.Join(required, ",")))
	}
	return allowed, nil
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
