// Package server exposes the mediator's operational HTTP surface: liveness,
// readiness, prometheus metrics and a read-only escrow snapshot.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"p2p-escrow-mediator/internal/metrics"
	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const readyTimeout = 2 * time.Second

// Backend is what the ops routes read from.
type Backend interface {
	HealthCheck(ctx context.Context) error
	GetStatus(ctx context.Context, escrowId string) (*models.Escrow, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Addr    string
	Backend Backend
}

// Server wraps the ops router and its http.Server.
type Server struct {
	backend Backend
	router  http.Handler
	http    *http.Server
}

func New(cfg Config) *Server {
	s := &Server{backend: cfg.Backend}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.ready)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/escrows/{id}", s.getEscrow)

	return r
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := s.backend.HealthCheck(ctx); err != nil {
		zap.L().Warn("Readiness check failed", zap.Error(err))
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) getEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := s.backend.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrEscrowNotFound) {
		http.Error(w, "escrow not found", http.StatusNotFound)
		return
	}
	if err != nil {
		zap.L().Error("Failed to load escrow", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(e); err != nil {
		zap.L().Warn("Failed to write escrow response", zap.Error(err))
	}
}

// ListenAndServe blocks until the server stops; http.ErrServerClosed is not an error.
func (s *Server) ListenAndServe() error {
	zap.L().Info("Ops server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
