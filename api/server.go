/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/tenants/*       Tenant balances, invoices, instruments, settlements
  /api/settlements/*   Settlement session editing and commit
  /api/balances        Per-tenant balances
  /api/portfolio/*     Portfolio aging summary
  /api/transactions    Running balance view
  /api/scenarios/*     Demo scenarios
  /metrics             Prometheus

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Tenant routes
		r.Route("/tenants", func(r chi.Router) {
			r.Get("/{id}/balance", h.GetTenantBalance)
			r.Get("/{id}/invoices", h.ListTenantInvoices)
			r.Get("/{id}/instruments", h.ListTenantInstruments)
			r.Get("/{id}/allocations", h.ListTenantAllocations)
			r.Post("/{id}/settlements", h.OpenSettlement)
		})

		// Settlement routes
		r.Route("/settlements", func(r chi.Router) {
			r.Get("/{sid}", h.GetSettlement)
			r.Delete("/{sid}", h.DiscardSettlement)
			r.Put("/{sid}/allocations", h.SetAllocation)
			r.Post("/{sid}/commit", h.CommitSettlement)
		})

		// Portfolio routes
		r.Get("/balances", h.ListBalances)
		r.Get("/portfolio/summary", h.GetPortfolioSummary)
		r.Get("/transactions", h.ListTransactions)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
