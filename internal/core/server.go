// Package core provides the HTTP chassis for the Pulse admin API. It creates
// a chi router and enforces cross-cutting concerns (panic recovery, request
// correlation, structured logging, admin authentication) before requests
// reach domain-specific handlers.
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pulse/internal/config"
)

// RouteRegistrar registers a group of domain handler routes on a router.
// The indirection avoids import cycles between core and handler packages:
// the application entry point wires handlers in, core only mounts them.
type RouteRegistrar func(chi.Router)

// Server encapsulates the dependencies of the admin API, allowing injection
// during testing and distinct configuration for different environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// AdminRouteRegistrars are mounted under /admin behind the API key
	// middleware. Populated by the entry point before MountRoutes.
	AdminRouteRegistrars []RouteRegistrar

	// HealthProbes are checked by GET /health. Each probe represents a
	// dependency (control-plane database, warehouse) that must be
	// reachable for the engine to function.
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the server for route
// mounting. It performs a fail-fast check on critical configuration.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction; this separation lets tests customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}
