package rbac

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/meridian-saas/meridian/internal/platform/httpx"
)

// UserResolver extracts the acting user's id from a request. The
// default implementation reads the X-User-ID header set by the edge
// authenticator.
type UserResolver func(r *http.Request) (int64, bool)

// HeaderUserResolver returns a UserResolver reading the given header.
func HeaderUserResolver(header string) UserResolver {
	return func(r *http.Request) (int64, bool) {
		raw := strings.TrimSpace(r.Header.Get(header))
		if raw == "" {
			return 0, false
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, false
		}
		return id, true
	}
}

// Middleware wires authorization checks into HTTP handlers.
type Middleware struct {
	Gate   *Gate
	User   UserResolver
	Logger *slog.Logger
}

// RequireAny admits requests whose user holds at least one of the
// required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(perms, (*Gate).HasAnyPermission)
}

// RequireAll admits requests whose user holds all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(perms, (*Gate).HasAllPermissions)
}

func (m Middleware) require(perms []string, check func(*Gate, context.Context, int64, []string) (bool, error)) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := m.User(r)
			if !ok {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			allowed, err := check(m.Gate, r.Context(), userID, normalized)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac authorize", slog.Any("error", err))
				}
				respondError(w, err)
				return
			}
			if !allowed {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
