package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/hongminglow/friendface-be/internal/config"
	"github.com/hongminglow/friendface-be/internal/http/handlers"
	"github.com/hongminglow/friendface-be/internal/middleware"
	"github.com/hongminglow/friendface-be/internal/state"
)

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, st *state.AppState, refresher handlers.Refresher, logger *slog.Logger) *Server {
	return &Server{inner: &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           NewHandler(cfg, st, refresher, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg config.Config, st *state.AppState, refresher handlers.Refresher, logger *slog.Logger) http.Handler {
	r := mux.NewRouter()
	handlers.NewHealthHandler(time.Now(), st).Register(r)
	// /users/watch has to win over /users/{id}.
	handlers.NewWatchHandler(st, cfg.CORSOrigins).Register(r)
	handlers.NewUsersHandler(st, refresher, cfg.DebugMode, cfg.FetchTimeout).Register(r)

	return middleware.CORS(cfg.CORSOrigins, middleware.Logging(logger, r))
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
