package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/auth"
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

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermGatewayConnect)).Get("/ws", s.handleWebSocket)

			r.Route("/sessions", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermSessionRead)).Get("/", s.handleListSessions)
				r.With(s.requirePermission(auth.PermSessionRead)).Get("/{key}", s.handleGetSession)
				r.With(s.requirePermission(auth.PermSessionManage)).Delete("/{key}", s.handleDisconnectSession)
			})

			r.Route("/broker-configs", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermBrokerConfigRead)).Get("/", s.handleListBrokerConfigs)
				r.With(s.requirePermission(auth.PermBrokerConfigRead)).Get("/{identity}", s.handleGetBrokerConfig)
				r.With(s.requirePermission(auth.PermBrokerConfigManage)).Put("/{identity}", s.handlePutBrokerConfig)
				r.With(s.requirePermission(auth.PermBrokerConfigManage)).Delete("/{identity}", s.handleDeleteBrokerConfig)
			})
		})
	})

	return r
}

// handleHealth reports liveness without authentication.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"uptime_seconds":    int64(time.Since(s.started).Seconds()),
		"sessions":          len(s.sessions.Sessions()),
		"gateway_clients":   s.hub.ClientCount(),
		"gateway_sessions":  s.keys.count(),
		"broker_config_api": s.store != nil,
	})
}
