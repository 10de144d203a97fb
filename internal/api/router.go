package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/bulkgen/internal/api/middleware"
	"github.com/phrazzld/bulkgen/internal/api/shared"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterDeps holds everything NewRouter wires into routes.
type RouterDeps struct {
	Jobs    *JobHandler
	Auth    *middleware.AuthMiddleware
	Metrics http.Handler
	Health  HealthCheck
	Logger  *slog.Logger
}

// NewRouter builds the HTTP routes. Everything under /api requires a bearer
// token; /health and /metrics are public.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.NewTraceMiddleware(deps.Logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.Post("/jobs", deps.Jobs.CreateJob)
		r.Get("/jobs", deps.Jobs.ListJobs)
		r.Get("/jobs/{id}", deps.Jobs.GetJob)
		r.Post("/jobs/{id}/cancel", deps.Jobs.CancelJob)
		r.Delete("/jobs/{id}", deps.Jobs.DeleteJob)
	})

	r.Get("/health", healthHandler(deps.Health))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	return r
}

func healthHandler(check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Unavailable", err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
