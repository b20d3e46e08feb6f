// Package httpapi assembles the public and operator HTTP surface.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"idverify/internal/platform/metrics"
	"idverify/pkg/platform/httputil"
	"idverify/pkg/platform/middleware/admin"
	"idverify/pkg/platform/middleware/metadata"
	request "idverify/pkg/platform/middleware/request"
	"idverify/pkg/platform/middleware/requesttime"
	"idverify/pkg/platform/middleware/tenant"
)

// Registrar mounts a group of routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router needs. Nil registrars are skipped.
type Deps struct {
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Process      Registrar
	Signals      Registrar
	Organization Registrar
	AdminToken   string
	Health       map[string]HealthCheck
}

const healthTimeout = 2 * time.Second

// NewRouter wires tenant routes under /v1, operator routes under /admin and
// the unauthenticated /healthz and /metrics.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Recovery(d.Logger))
	r.Use(request.Logger(d.Logger))
	r.Use(requesttime.Middleware)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/healthz", healthHandler(d.Health))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(tenant.RequireOrganization(d.Logger))
		for _, reg := range []Registrar{d.Process, d.Signals} {
			if reg != nil {
				reg.Register(v1)
			}
		}
	})

	if d.Organization != nil && d.AdminToken != "" {
		r.Route("/admin", func(ar chi.Router) {
			ar.Use(admin.RequireAdminToken(d.AdminToken, d.Logger))
			d.Organization.Register(ar)
		})
	}
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status": http.StatusText(status),
			"checks": results,
		})
	}
}
