// Package core provides the HTTP chassis shared by the streamrelay processes.
// It creates a chi router, enforces cross-cutting concerns (panic recovery,
// request correlation, redacted request logging) and serves the health
// endpoint before requests reach domain-specific handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"streamrelay/internal/types"
)

// RouteRegistrar mounts domain routes onto the root router. Registrars are
// supplied by the process entry point so core never imports domain packages.
type RouteRegistrar func(r chi.Router)

// Closer is a resource released during Shutdown.
type Closer interface {
	Close() error
}

// Server encapsulates the HTTP surface of a streamrelay process, allowing for
// easy injection during testing.
type Server struct {
	Service string
	Logger  *slog.Logger
	Clock   types.Clock

	HealthProbes    []HealthProbe
	StatsReporters  []StatsReporter
	RouteRegistrars []RouteRegistrar
	// RedactedHeaders overrides the default set of masked request-log headers.
	RedactedHeaders []string
	// Closers are released in order during Shutdown.
	Closers []Closer

	startedAt time.Time
	router    *chi.Mux
}

// NewServer initializes the router and prepares the server for route
// mounting. The caller mounts routes via MountRoutes after attaching probes,
// reporters and registrars.
func NewServer(service string, logger *slog.Logger) (*Server, error) {
	if service == "" {
		return nil, fmt.Errorf("service name must not be empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	clock := types.RealClock{}
	return &Server{
		Service:   service,
		Logger:    logger,
		Clock:     clock,
		startedAt: clock.Now(),
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

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return s.Clock.Now().Sub(s.startedAt)
}

// Shutdown releases the registered Closers. All closers are attempted; the
// returned error joins every failure.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated", "service", s.Service)

	var errs []error
	for _, c := range s.Closers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.Close(); err != nil {
			s.Logger.Error("error closing resource", "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing resources: %w", errors.Join(errs...))
	}

	s.Logger.Info("server shutdown complete", "service", s.Service)
	return nil
}
