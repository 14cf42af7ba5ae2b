// Package api exposes the read-side HTTP surface: case queries, graphs,
// partition health and transaction intake.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	host    string
	port    int

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewServer creates a new API server around the given handler.
func NewServer(host string, port, readTimeoutSec, writeTimeoutSec int, handler *Handler) *Server {
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and instrumentation
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	// Case queries and review workflow
	router.Get("/cases", handler.ListCases)
	router.Get("/cases/{id}", handler.GetCase)
	router.Get("/cases/{id}/graph", handler.GetGraph)
	router.Get("/cases/{id}/drivers", handler.GetDrivers)
	router.Post("/cases/{id}/status", handler.UpdateCaseStatus)
	router.Post("/cases/{id}/reopen", handler.ReopenCase)

	// Reference data and pipeline health
	router.Get("/profiles/{id}", handler.GetProfile)
	router.Get("/entities/{id}", handler.GetEntityState)
	router.Get("/partitions", handler.Partitions)

	// Intake and policy management
	router.Post("/transactions", handler.SubmitTransaction)
	router.Get("/policy", handler.GetPolicy)
	router.Post("/policy/reload", handler.ReloadPolicy)

	return &Server{
		router:       router,
		handler:      handler,
		host:         host,
		port:         port,
		readTimeout:  time.Duration(readTimeoutSec) * time.Second,
		writeTimeout: time.Duration(writeTimeoutSec) * time.Second,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
