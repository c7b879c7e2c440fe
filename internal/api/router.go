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

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", s.handleListConnections)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetConnection)
				r.Post("/reconnect", s.handleReconnect)
				r.Post("/disconnect", s.handleDisconnect)
				r.Get("/events", s.handleConnectionEvents)
			})
		})

		r.Get("/sensors", s.handleSensors)
		r.Get("/weather", s.handleWeather)
		r.Get("/navigation", s.handleNavigation)

		r.Route("/relays", func(r chi.Router) {
			r.Get("/", s.handleListRelays)
			r.Post("/{id}", s.handleSetRelay)
			r.Post("/{id}/toggle", s.handleToggleRelay)
		})

		r.Route("/victron", func(r chi.Router) {
			r.Get("/", s.handleVictron)
			r.Post("/mode", s.handleSetVictronMode)
		})

		r.Route("/signalk", func(r chi.Router) {
			r.Get("/", s.handleSignalK)
			r.Post("/test", s.handleTestSignalK)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the server version and how many connections are up.
// The status is "degraded" while any connection is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	up, total := s.supervisor.Connected()
	status := "ok"
	if up < total {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"connections": map[string]int{
			"connected": up,
			"total":     total,
		},
	})
}
