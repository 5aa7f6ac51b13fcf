package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/arenarank/arenarank-permissions/internal/identity"
	"github.com/arenarank/arenarank-permissions/internal/observability"
	"github.com/arenarank/arenarank-permissions/internal/permissions"
	"github.com/arenarank/arenarank-permissions/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	Directory     identity.Directory
	GroupsHandler *permissions.GroupsHandler
	UsersHandler  *permissions.Handler
	JobsHandler   *jobs.Handler
	Metrics       *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:    params.Logger,
		Config:    params.Config,
		Directory: params.Directory,
		Metrics:   params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/groups", params.GroupsHandler.MountRoutes)
		r.Route("/users", params.UsersHandler.MountUserRoutes)
		r.Route("/permissions", params.UsersHandler.MountCatalogRoutes)
		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	return r
}
