// Package server exposes the room registry over HTTP: a websocket endpoint
// per room plus small JSON endpoints for room creation and lookup.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"watchparty/internal/config"
	"watchparty/internal/room"
)

// Server wraps the HTTP handlers and their configuration.
type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *room.Registry
	router   *mux.Router
	upgrader websocket.Upgrader
}

// New constructs a Server with routes configured. metricsHandler, if
// non-nil, is mounted at /metrics.
func New(cfg config.Config, logger *slog.Logger, registry *room.Registry, metricsHandler http.Handler) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/rooms", s.handleCreateRoom).Methods("POST")
	s.router.HandleFunc("/rooms/{roomID}", s.handleGetRoom).Methods("GET")
	s.router.HandleFunc("/ws/rooms/{roomID}", s.handleWebSocket)
	if metricsHandler != nil {
		s.router.Handle("/metrics", metricsHandler).Methods("GET")
	}
	return s
}

// Router returns the server's handler with middleware applied.
func (s *Server) Router() http.Handler {
	return s.loggingMiddleware(s.router)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
