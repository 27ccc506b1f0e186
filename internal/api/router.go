package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// buildRouter mounts the REST surface under /api/v1.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Order matters: the request ID must exist before the access log, and
	// recovery sits inside logging so a panic still produces a 500 entry.
	r.Use(
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.recoveryMiddleware,
		s.corsMiddleware,
		s.bodySizeLimitMiddleware,
	)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Health and metrics stay open for monitoring.
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/latest", s.handleLatestFrame)
					r.Get("/history", s.handleFrameHistory)
				})
			})

			if s.audit != nil {
				r.Get("/audit", s.handleListAudit)
			}

			r.Get(s.wsPath(), s.handleWebSocket)
		})
	})

	return r
}

// wsPath is the WebSocket route relative to /api/v1.
func (s *Server) wsPath() string {
	path := strings.TrimPrefix(s.wsCfg.Path, "/api/v1")
	if path == "" || path == "/" {
		return "/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	upstream := "disabled"
	if s.commands != nil {
		upstream = "disconnected"
		if s.commands.IsConnected() {
			upstream = "connected"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"mqtt":    upstream,
	})
}
