// Package core provides the API chassis for the reportflow platform: a chi
// router with the cross-cutting concerns (request IDs, logging, panic
// recovery, error envelopes) applied before requests reach domain handlers.
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Server encapsulates the router and its shared dependencies, allowing
// injection during testing.
type Server struct {
	Logger *slog.Logger

	router *chi.Mux
}

// NewServer builds the router with the base middleware chain applied. The
// caller mounts domain routes afterwards; the separation lets tests mount
// only what they exercise.
func NewServer(logger *slog.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Logger: logger,
		router: chi.NewRouter(),
	}

	s.router.Use(Recoverer(logger))
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(logger))

	s.router.Get("/healthz", s.health)

	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"status": "ok"}})
}
