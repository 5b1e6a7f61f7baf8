package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/ransomwatch/pkg/features"
	"github.com/lucid-vigil/ransomwatch/pkg/feed"
	"github.com/lucid-vigil/ransomwatch/pkg/sim"
	"github.com/lucid-vigil/ransomwatch/pkg/telemetry"
)

// welcomeMessage greets dashboard probes on the root route.
const welcomeMessage = "Welcome to the Advanced Ransomware Monitoring API. Live tracking is active."

// Engine is the slice of the monitoring engine the API needs.
type Engine interface {
	SnapshotNow(ctx context.Context) *features.Snapshot
}

// SimRunner triggers one simulated attack.
type SimRunner interface {
	Run(ctx context.Context) error
}

// Config holds the HTTP surface settings.
type Config struct {
	Port         string
	AuthToken    string
	AllowOrigins []string
}

// Server exposes the monitoring pipeline over HTTP: on-demand snapshots, the
// WebSocket alert and live-tracking feed, Prometheus metrics and the attack
// simulation trigger.
type Server struct {
	cfg      Config
	engine   Engine
	hub      *feed.Hub
	sim      SimRunner
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New assembles the router and returns a server ready to Start.
func New(cfg Config, eng Engine, hub *feed.Hub, simulator SimRunner) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		hub:    hub,
		sim:    simulator,
		logger: log.With().Str("component", "api").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser client, no origin to vet.
					return true
				}
				for _, allowed := range cfg.AllowOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
	s.setupRoutes()
	return s
}

// Start begins serving in the background. Listen failures surface in the log
// rather than as a return value, since they happen after Start returns.
func (s *Server) Start(ctx context.Context) {
	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.server.Addr).Msg("API server starting")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("API server failed")
		}
	}()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("API server shutting down")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)

	// OPTIONS is listed everywhere so preflight requests match a route and
	// reach the CORS middleware instead of the 405 handler.
	s.router.HandleFunc("/", s.handleWelcome).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/system_data", s.handleSystemData).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET", "OPTIONS")
	s.router.Handle("/metrics", telemetry.Handler()).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/ws/alerts", s.handleAlertsSocket)
	s.router.HandleFunc("/simulate_ransomware", s.handleSimulate).Methods("POST", "OPTIONS")
}

// Middleware

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range s.cfg.AllowOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

// Handlers

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"message": welcomeMessage})
}

// handleSystemData runs one full collection and detection cycle on demand.
// The returned snapshot went through the same pipeline as a loop cycle, so
// asking for data can itself trigger the response.
func (s *Server) handleSystemData(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.SnapshotNow(r.Context())
	s.sendJSON(w, http.StatusOK, map[string]any{
		"status": snap.State,
		"data":   snap,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleAlertsSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken != "" && r.URL.Query().Get("token") != s.cfg.AuthToken {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("WebSocket subscriber rejected, bad token")
		http.Error(w, "Unauthorized", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	s.hub.Register(conn)
	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("WebSocket subscriber connected")
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil {
		s.sendJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "simulation unavailable"})
		return
	}

	// Detached from the request context: the run outlives this response.
	go func() {
		if err := s.sim.Run(context.Background()); err != nil && !errors.Is(err, sim.ErrBlocked) {
			s.logger.Error().Err(err).Msg("Ransomware simulation failed")
		}
	}()

	s.sendJSON(w, http.StatusOK, map[string]string{"message": "Simulated ransomware attack triggered."})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
