// Package httptransport assembles the public HTTP surface: shared middleware,
// health and metrics endpoints, and the authenticated access routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"keygate/internal/platform/metrics"
	"keygate/pkg/platform/httputil"
	"keygate/pkg/platform/middleware/admin"
	authmw "keygate/pkg/platform/middleware/auth"
	"keygate/pkg/platform/middleware/metadata"
	"keygate/pkg/platform/middleware/request"
	"keygate/pkg/platform/middleware/requesttime"
)

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthChecks reports the first failing dependency, in order.
type HealthChecks []HealthChecker

func (hc HealthChecks) Health(ctx context.Context) error {
	for _, c := range hc {
		if err := c.Health(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Deps are the collaborators the router mounts. Simulation is nil unless
// the approval simulator is enabled; RateLimit is nil when throttling is off.
// The simulator always sits behind OpsToken, and an empty token refuses every
// call.
type Deps struct {
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Tokens      authmw.TokenValidator
	RateLimit   func(http.Handler) http.Handler
	Health      HealthChecker
	KeyRequests Registrar
	Release     Registrar
	Simulation  Registrar
	OpsToken    string
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(d.Logger))
	r.Use(request.Logger(d.Logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(d.Metrics.Middleware)

	r.Get("/healthz", healthHandler(d.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(d.Tokens, d.Logger))
		if d.RateLimit != nil {
			r.Use(d.RateLimit)
		}
		d.KeyRequests.Register(r)
		d.Release.Register(r)
	})

	if d.Simulation != nil {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireOpsToken(d.OpsToken, d.Logger))
			d.Simulation.Register(r)
		})
	}
	return r
}

func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.Health(r.Context()); err != nil {
				httputil.WriteError(w, err)
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
