package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/relayboard-core/internal/panel"
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

	// UI endpoints
	r.Get("/data", s.handleGetData)
	r.Post("/data", s.handlePostData)
	r.Post("/register", s.handleRegister)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/relays", func(r chi.Router) {
			r.Get("/", s.handleListRelays)
			r.Get("/{id}", s.handleGetRelay)
			r.Get("/{id}/history", s.handleRelayHistory)
		})

		r.Post("/board/sync", s.handleBoardSync)

		r.Get("/ws", s.handleWebSocket)
	})

	// Static UI for everything else
	r.Handle("/*", panel.Handler(s.cfg.StaticDir))

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	boardStatus := map[string]any{"registered": false}
	if b, ok := s.engine.Board(); ok {
		boardStatus = map[string]any{
			"registered": true,
			"address":    b.Addr().String(),
		}
	}

	components := s.checkComponents(r.Context())
	status, code := "ok", http.StatusOK
	for _, state := range components {
		if state != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"components":     components,
		"board":          boardStatus,
		"relays":         len(s.engine.Snapshot()),
		"subscribers":    s.bus.SubscriberCount(),
		"ws_clients":     s.hub.ClientCount(),
	})
}

// checkComponents runs the health check of every configured dependency.
// Each value is "ok" or the failure message.
func (s *Server) checkComponents(ctx context.Context) map[string]string {
	checks := make(map[string]HealthChecker, 3)
	if s.db != nil {
		checks["database"] = s.db
	}
	if s.mqtt != nil {
		checks["mqtt"] = s.mqtt
	}
	if s.influx != nil {
		checks["influxdb"] = s.influx
	}

	results := make(map[string]string, len(checks))
	for name, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, componentCheckTimeout)
		err := c.HealthCheck(checkCtx)
		cancel()

		if err != nil {
			results[name] = err.Error()
			s.logger.Warn("health check failed", "component", name, "error", err)
			continue
		}
		results[name] = "ok"
	}
	return results
}
