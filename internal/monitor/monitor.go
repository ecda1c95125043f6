// Package monitor serves the runtime status of the extension over HTTP.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rookie-ar/markerscene/internal/orchestrator"
)

// StatusSource reports the orchestrator state. *orchestrator.Orchestrator implements it.
type StatusSource interface {
	Status(ctx context.Context) (orchestrator.Status, error)
}

// CommandLister lists the commands the bridge accepts. *dispatcher.Dispatcher implements it.
type CommandLister interface {
	Commands() []string
}

// HealthChecker probes the scene backend. *api.Client implements it.
type HealthChecker interface {
	Healthcheck(ctx context.Context) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Status   StatusSource
	Commands CommandLister
	Backend  HealthChecker
	Logger   *slog.Logger
	Version  string
	// Timeout bounds each status or health query.
	Timeout time.Duration
}

// Service manages the status endpoint
type Service struct {
	deps      Dependencies
	router    chi.Router
	server    *http.Server
	listener  net.Listener
	isRunning bool
	mu        sync.RWMutex
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Version  string              `json:"version"`
	Uptime   string              `json:"uptime"`
	Commands []string            `json:"commands,omitempty"`
	Status   orchestrator.Status `json:"status"`
}

var started = time.Now()

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 5 * time.Second
	}
	s := &Service{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	s.router = r
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Service) Handler() http.Handler {
	return s.router
}

// IsRunning returns whether the HTTP server is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound address, or "" when not running.
func (s *Service) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens on addr and serves in the background.
func (s *Service) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	if addr == "" {
		return errors.New("monitor: listen address is empty")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor: listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.isRunning = true

	srv, logger := s.server, s.deps.Logger
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Monitor server stopped", "error", err)
		}
	}()
	logger.Info("Monitor listening", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the server down, waiting for open requests until ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return nil
	}
	s.isRunning = false
	s.listener = nil
	return s.server.Shutdown(ctx)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backend == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.Timeout)
	defer cancel()
	if err := s.deps.Backend.Healthcheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version: s.deps.Version,
		Uptime:  time.Since(started).Round(time.Second).String(),
	}
	if s.deps.Commands != nil {
		resp.Commands = s.deps.Commands.Commands()
	}
	if s.deps.Status != nil {
		ctx, cancel := context.WithTimeout(r.Context(), s.deps.Timeout)
		defer cancel()
		st, err := s.deps.Status.Status(ctx)
		if err != nil {
			s.deps.Logger.Warn("Status query failed", "requestId", middleware.GetReqID(r.Context()), "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		resp.Status = st
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
