// Package api exposes the HTTP interface for the pixelmirror service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pixelmirror/pixelmirror/internal/metrics"
	"github.com/pixelmirror/pixelmirror/internal/mirror"
)

// Server wires HTTP handlers to the mirror service.
type Server struct {
	router chi.Router
	svc    *mirror.Service
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc *mirror.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:    svc,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/entries", func(r chi.Router) {
		r.Get("/", s.listEntries)
		r.Post("/", s.createEntry)
		r.Delete("/{id}", s.deleteEntry)
	})
	r.Get("/view/{id}", s.viewEntry)
	r.Post("/delete/{id}", s.deleteEntry)
	r.Post("/maintenance/evict", s.evict)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
