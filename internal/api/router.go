package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", s.handleHealth)

		// System metrics
		r.Get("/metrics", s.handleMetrics)

		// Device endpoints
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/values", s.handleDeviceValues)
				r.Get("/plan", s.handleDevicePlan)
				r.Post("/reload", s.handleReloadDevice)
				r.Delete("/registers", s.handleRemoveRegisters)

				r.Get("/performance", s.handleDevicePerformance)
				r.Post("/performance/reset", s.handleResetDevicePerformance)
				r.Get("/performance/history", s.handleDevicePerformanceHistory)
				r.Get("/performance/latest", s.handleDevicePerformanceLatest)
			})
		})

		// Cached register values
		r.Route("/values", func(r chi.Router) {
			r.Get("/", s.handleListValues)
			r.Get("/{unique_id}", s.handleGetValue)
		})

		// Register write commands
		r.Post("/commands/{unique_id}", s.handleCommand)

		// Engine-wide reload
		r.Post("/reload", s.handleReloadAll)

		// Engine-wide performance
		r.Route("/performance", func(r chi.Router) {
			r.Get("/", s.handleEnginePerformance)
			r.Post("/reset", s.handleResetEnginePerformance)
		})

		// Active failure records
		r.Get("/errors", s.handleListErrors)

		// Audit trail
		r.Get("/audit", s.handleListAuditLogs)

		// WebSocket
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
