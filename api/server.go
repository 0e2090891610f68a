/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/counts/*        Count document workflow
  /api/ledger/*        Journal reads and reversal
  /api/stock           Stock record reads
  /api/admin/*         Master data management
  /api/health          Liveness
  /api/reset           Database reset (dev only)

SECURITY NOTE:
  No authentication middleware currently. Tenant and actor arrive as
  headers and are trusted as-is.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Count workflow routes
		r.Route("/counts", func(r chi.Router) {
			r.Get("/", h.ListCounts)
			r.Post("/", h.CreateCount)
			r.Get("/{id}", h.GetCount)
			r.Put("/{id}", h.UpdateCount)
			r.Delete("/{id}", h.DeleteCount)
			r.Post("/{id}/submit", h.SubmitCount)
			r.Post("/{id}/approve", h.ApproveCount)
			r.Post("/{id}/reject", h.RejectCount)
			r.Post("/{id}/return", h.ReturnCount)
			r.Post("/{id}/accept-variance", h.AcceptVariance)
		})

		// Ledger routes
		r.Route("/ledger", func(r chi.Router) {
			r.Get("/", h.ListLedger)
			r.Get("/groups/{groupId}", h.GetPostingGroup)
			r.Post("/groups/{groupId}/reverse", h.ReversePostingGroup)
		})

		// Stock routes
		r.Get("/stock", h.ListStock)

		// Master data routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/warehouses", h.SaveWarehouse)
			r.Post("/products", h.SaveProduct)
			r.Post("/accounts", h.SaveAccount)
			r.Delete("/accounts/{id}", h.DeleteAccount)
			r.Post("/currencies", h.SaveCurrency)
			r.Post("/reasons", h.SaveReason)
			r.Get("/reasons", h.ListReasons)
		})

		r.Get("/health", h.Health)
		r.Post("/reset", h.ResetDatabase)
	})

	return r
}
