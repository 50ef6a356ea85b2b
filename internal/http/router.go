// Package httpapi assembles the public router: middleware chain, health and
// metrics endpoints, and the per-context handlers.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cataloghandler "conformo/internal/catalog/handler"
	derivationhandler "conformo/internal/derivation/handler"
	obligationhandler "conformo/internal/obligation/handler"
	"conformo/internal/platform/middleware"
	"conformo/pkg/platform/httputil"
)

// HealthChecker reports the liveness of one backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps carries everything the router mounts.
type Deps struct {
	Catalog    *cataloghandler.Handler
	Obligation *obligationhandler.Handler
	Derivation *derivationhandler.Handler

	TokenValidator middleware.TokenValidator
	AdminKeyHash   string
	Logger         *slog.Logger

	// Checks run on /healthz; a name maps to a dependency probe.
	Checks map[string]HealthChecker
}

// NewRouter wires all public endpoints. Business routes require a bearer
// token; catalog writes additionally require the admin key.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", handleHealth(deps.Checks))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		api.Use(middleware.ContentTypeJSON)
		api.Use(middleware.RequireAuth(deps.TokenValidator, deps.Logger))

		deps.Catalog.Register(api, middleware.RequireAdminKey(deps.AdminKeyHash, deps.Logger))
		deps.Obligation.Register(api)
		deps.Derivation.Register(api)
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func handleHealth(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check.Health(ctx); err != nil {
				resp.Status = "degraded"
				resp.Checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
