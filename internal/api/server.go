// Package api provides HTTP API functionality for the go-shine server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-shine/internal/config"
	"github.com/resident-x/go-shine/internal/domain"
	"github.com/resident-x/go-shine/internal/session"
)

// SessionLister exposes the live connection snapshots of the TCP server.
type SessionLister interface {
	Sessions() []session.Stats
}

// Server represents the HTTP API server that provides monitoring functionality.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	tracker   *domain.Tracker
	sessions  SessionLister
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new HTTP API server. metricsHandler may be nil to
// disable the /metrics endpoint.
func NewServer(cfg *config.Config, tracker *domain.Tracker, sessions SessionLister, metricsHandler http.Handler) *Server {
	router := mux.NewRouter()

	apiServer := &Server{
		config:    cfg,
		router:    router,
		tracker:   tracker,
		sessions:  sessions,
		logger:    log.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}

	apiServer.setupRoutes(metricsHandler)

	return apiServer
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes(metricsHandler http.Handler) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/devices", s.handleListDevices).Methods("GET")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")

	if metricsHandler != nil {
		s.router.Handle("/metrics", metricsHandler).Methods("GET")
	}
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	return nil
}

// handleStatus returns server status information.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).String(),
		"deviceCount": s.tracker.Count(),
	}

	s.writeJSON(w, status, http.StatusOK)
}

// handleListDevices returns the liveness snapshot of all tracked devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.tracker.Snapshot()

	s.writeJSON(w, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	}, http.StatusOK)
}

// handleListSessions returns the active TCP connection snapshots.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	var stats []session.Stats
	if s.sessions != nil {
		stats = s.sessions.Sessions()
	}

	s.writeJSON(w, map[string]interface{}{
		"sessions": stats,
		"count":    len(stats),
	}, http.StatusOK)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
