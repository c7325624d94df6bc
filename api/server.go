/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for browser clients

ROUTE GROUPS:
  /api/health           Liveness
  /api/meters/*         Meter management and spend/refund
  /api/datetime/*       Date formatting and ranges
  /api/presets/*        Predefined meters
  /api/admin/*          Admin operations

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

// NewRouter creates a new router with all routes configured. An empty
// allowedOrigins list allows every origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Meter routes
		r.Route("/meters", func(r chi.Router) {
			r.Get("/", h.ListMeters)
			r.Post("/", h.CreateMeter)
			r.Get("/{id}", h.GetMeter)
			r.Delete("/{id}", h.DeleteMeter)
			r.Post("/{id}/spend", h.Spend)
			r.Post("/{id}/refund", h.Refund)
			r.Get("/{id}/entries", h.ListEntries)
		})

		// Date/time routes
		r.Route("/datetime", func(r chi.Router) {
			r.Get("/format", h.FormatDate)
			r.Get("/range", h.DateRange)
		})

		// Preset routes
		r.Route("/presets", func(r chi.Router) {
			r.Get("/", h.ListPresets)
			r.Post("/load", h.LoadPreset)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/checkpoint", h.Checkpoint)
		})
	})

	return r
}
