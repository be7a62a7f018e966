// ABOUTME: HTTP control surface for the live-input-to-airplay daemon
// ABOUTME: Wires REST routes and the event streams over net/http with graceful shutdown
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alphalpha/live-input-to-airplay/internal/defaults"
	"github.com/alphalpha/live-input-to-airplay/internal/hub"
	"github.com/alphalpha/live-input-to-airplay/internal/orch"
	"github.com/alphalpha/live-input-to-airplay/internal/owntone"
	"github.com/alphalpha/live-input-to-airplay/internal/systemd"
)

const shutdownTimeout = 5 * time.Second

// Config holds the server's runtime settings.
type Config struct {
	ListenAddr string
	CoreUnit   string
	PipeUnit   string
}

// Server exposes the JSON API and the event streams.
type Server struct {
	cfg      Config
	serverID string

	services     systemd.ServiceManager
	outputs      *owntone.Client
	defaults     *defaults.Store
	hub          *hub.Hub
	orchestrator *orch.Orchestrator

	httpServer *http.Server
	logger     *zap.Logger
}

// New assembles the server over its collaborators.
func New(cfg Config, services systemd.ServiceManager, outputs *owntone.Client, defs *defaults.Store, h *hub.Hub, o *orch.Orchestrator, logger *zap.Logger) *Server {
	s := &Server{
		cfg:          cfg,
		serverID:     uuid.New().String(),
		services:     services,
		outputs:      outputs,
		defaults:     defs,
		hub:          h,
		orchestrator: o,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/outputs", s.handleOutputs)
	mux.HandleFunc("PUT /api/outputs/{id}", s.handleUpdateOutput)
	mux.HandleFunc("GET /api/defaults", s.handleGetDefaults)
	mux.HandleFunc("PUT /api/defaults", s.handleSetDefaults)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return s
}

// ID returns the server instance identifier, used for mDNS TXT records.
func (s *Server) ID() string {
	return s.serverID
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("listening", zap.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight handlers.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
