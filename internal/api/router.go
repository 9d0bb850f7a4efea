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
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Speaker endpoints
			r.Route("/speakers", func(r chi.Router) {
				r.Get("/", s.handleListSpeakers)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetSpeaker)
					r.Get("/connection", s.handleGetConnection)
					r.Get("/events", s.handleGetSpeakerEvents)
					r.Get("/group", s.handleGetSpeakerGroup)
					r.Put("/volume", s.handleSetVolume)
					r.Put("/mute", s.handleSetMute)
					r.Post("/play", s.handlePlay)
					r.Post("/pause", s.handlePause)
				})
			})

			// Group endpoints (master-addressed)
			r.Route("/groups/{masterId}/members", func(r chi.Router) {
				r.Get("/", s.handleGetGroupMembers)
				r.Post("/", s.handleAddGroupMembers)
				r.Delete("/{memberId}", s.handleRemoveGroupMember)
			})

			// System status
			r.Get("/system/status", s.handleSystemStatus)

			// WebSocket (auth via token query parameter, validated in handler)
			r.Get("/ws", s.handleWebSocket)
		})
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
