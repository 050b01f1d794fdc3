package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID, echoRequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(s.cors)
	r.Use(chimw.RequestSize(maxRequestBodySize))

	// Prometheus scrape endpoint (no auth required)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/system/metrics", s.handleSystemMetrics)

			r.Route("/brew", func(r chi.Router) {
				r.Get("/", s.handleGetRunState)
				r.Post("/start", s.handleStartBrew)
				r.Post("/abort", s.handleAbortBrew)
				r.Get("/fault", s.handleGetFault)
			})

			r.Route("/recipes", func(r chi.Router) {
				r.Get("/", s.handleListRecipes)
				r.Post("/reload", s.handleReloadRecipes)

				r.Route("/{key}", func(r chi.Router) {
					r.Get("/", s.handleGetRecipe)
					r.Put("/", s.handlePutRecipe)
					r.Delete("/", s.handleDeleteRecipe)
					r.Post("/start", s.handleStartRecipe)
				})
			})

			r.Route("/stats", func(r chi.Router) {
				r.Get("/", s.handleStatsSummary)
				r.Get("/runs", s.handleListRuns)
			})

			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
		"brew":    s.brew.RunState().Status,
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}
