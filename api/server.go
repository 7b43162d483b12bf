/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the shop-floor frontend

ROUTE GROUPS:
  /api/tools/*          Tool lifecycle and reconciliation
  /api/production       Machine production events
  /api/work-orders/*    Work order cost snapshots
  /api/audit/*          Integrity audit history
  /health               Liveness (pings the database when possible)
  /metrics              Prometheus, when a handler is given

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions holds the optional parts of the router.
type RouterOptions struct {
	CORSOrigins []string     // default: any origin
	Metrics     http.Handler // nil: no /metrics route
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition", "Retry-After"},
	}))

	r.Get("/health", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/tools", func(r chi.Router) {
			r.Get("/", h.ListTools)
			r.Post("/", h.CreateTool)
			r.Get("/{id}", h.GetTool)
			r.Post("/{id}/mount", h.MountTool)
			r.Post("/{id}/unmount", h.UnmountTool)
			r.Post("/{id}/state", h.SetToolState)
			r.Post("/{id}/finalize", h.FinalizeTool)
			r.Put("/{id}/estimated-life", h.UpdateEstimatedLife)
			r.Get("/{id}/usage", h.GetUsage)
			r.Get("/{id}/adjustments", h.GetAdjustments)
			r.Get("/{id}/reconciliation/preview", h.PreviewReconciliation)
			r.Get("/{id}/reconciliation.xlsx", h.ExportReconciliation)
		})

		r.Post("/production", h.RegisterProduction)
		r.Get("/work-orders/{id}/cost", h.GetWorkOrderCost)

		r.Route("/audit", func(r chi.Router) {
			r.Get("/runs", h.ListAuditRuns)
			r.Post("/run", h.RunAudit)
		})
	})

	return r
}
