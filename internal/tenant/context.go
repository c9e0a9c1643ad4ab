// Package tenant carries the tenant scope every RBAC operation runs under.
package tenant

import (
	"context"
	"errors"
	"strings"
)

// ErrMissing indicates no tenant scope is attached to the context.
var ErrMissing = errors.New("tenant: no tenant in context")

type tenantContextKey struct{}

// WithTenant stores the tenant id in context.
func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, id)
}

// FromContext extracts the tenant id from context.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantContextKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// MustFromContext returns the tenant id or ErrMissing.
func MustFromContext(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", ErrMissing
	}
	return id, nil
}

// Normalize canonicalizes a tenant identifier taken from a request header.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
