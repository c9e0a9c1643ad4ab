package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-saas/meridian/internal/observability"
	"github.com/meridian-saas/meridian/internal/rbac"
	"github.com/meridian-saas/meridian/internal/tenant"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger      *slog.Logger
	Config      *Config
	RBACHandler *rbac.Handler
	Metrics     *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults. Every
// /api/v1 route runs behind the tenant middleware, so handlers below it
// can rely on a tenant being present in the context.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(tenant.Middleware(params.Config.TenantHeader, params.Logger))
		params.RBACHandler.MountRoutes(r)
	})

	return r
}
