package tenant

import (
	"log/slog"
	"net/http"
)

// Middleware resolves the tenant id from a request header into context.
// Requests without a tenant are rejected before they can touch tenant data.
func Middleware(header string, logger *slog.Logger) func(http.Handler) http.Handler {
	if header == "" {
		header = "X-Tenant-ID"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Normalize(r.Header.Get(header))
			if id == "" {
				if logger != nil {
					logger.Warn("request without tenant", slog.String("path", r.URL.Path))
				}
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), id)))
		})
	}
}
