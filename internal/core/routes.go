package core

import (
	"github.com/go-chi/chi/v5"
)

// defaultRedactedHeaders lists header names whose values are masked in
// request logs to prevent accidental leakage of credentials.
var defaultRedactedHeaders = []string{
	"Authorization",
	"X-Api-Key",
	"Cookie",
}

// MountRoutes defines the top-level routing hierarchy: the global middleware
// chain, the public health check, and the /admin group behind the API key.
//
// Middleware ordering:
//  1. Recoverer      - catches panics; outermost so all failures are caught.
//  2. RequestID      - generates/propagates the correlation ID.
//  3. RequestLogger  - structured logging with redacted headers.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(s.AdminKeyMiddleware)
		for _, registrar := range s.AdminRouteRegistrars {
			registrar(r)
		}
	})
}
