package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hearth-ehr/hearth/internal/auth"
	"github.com/hearth-ehr/hearth/internal/clients"
	guardhttp "github.com/hearth-ehr/hearth/internal/guard/http"
	"github.com/hearth-ehr/hearth/internal/observability"
	"github.com/hearth-ehr/hearth/internal/rbac"
	"github.com/hearth-ehr/hearth/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Authenticator      *auth.Authenticator
	AuthHandler        *auth.Handler
	ClientsHandler     *clients.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Guard              guardhttp.Middleware
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Hearth defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:        params.Logger,
		Config:        params.Config,
		Authenticator: params.Authenticator,
		Metrics:       params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		if params.Authenticator != nil {
			r.Use(params.Authenticator.Middleware)
		}
		if params.ClientsHandler != nil {
			r.Route("/clients", params.ClientsHandler.MountRoutes)
		}
		if params.PermissionsHandler != nil {
			r.Route("/permissions", func(r chi.Router) {
				params.PermissionsHandler.MountSelf(r)
				r.With(params.Guard.Require(rbac.ModuleSettings)).Route("/matrix", params.PermissionsHandler.MountMatrix)
			})
		}
		if params.JobHandler != nil {
			r.Route("/ops/jobs", func(r chi.Router) {
				r.Use(params.Guard.Require(rbac.ModuleSettings, rbac.RoleAdmin))
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}
