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
  4. CORS:       Cross-origin requests for the shell UI

ROUTE GROUPS:
  /api/accounts/*       Accounts and per-account registers
  /api/schedules/*      Schedule management
  /api/payees           Payee reference data
  /api/reset            Demo book reset (dev only)

SECURITY NOTE:
  No authentication middleware. The API fronts a single-user book.

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account and register routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/register", h.GetRegister)
				r.Post("/edit", h.StartEdit)
				r.Put("/edit/field", h.SetField)
				r.Post("/edit/validate", h.ValidateEdit)
				r.Post("/edit/commit", h.CommitEdit)
				r.Post("/edit/discard", h.DiscardEdit)
				r.Post("/actions", h.ApplyAction)
			})
		})

		// Schedule routes
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.ListSchedules)
			r.Get("/{id}/occurrences", h.GetOccurrences)
			r.Delete("/{id}", h.DeleteSchedule)
		})

		// Payee routes
		r.Get("/payees", h.ListPayees)

		// Admin routes
		r.Post("/reset", h.ResetDatabase)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
