// Package api serves the read-only status API of a running serpwatch.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/serpwatch/internal/ratelimit"
)

// RequestsPerHour limits status API clients
const RequestsPerHour = 3600

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(limiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.Health).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()

	// Polling endpoints (rate limited)
	polled := api.PathPrefix("").Subrouter()
	polled.Use(RateLimitMiddleware(limiter, RequestsPerHour))
	polled.HandleFunc("/ledger", h.GetLedger).Methods("GET")
	polled.HandleFunc("/proxies", h.ListProxies).Methods("GET")
	polled.HandleFunc("/session", h.GetSession).Methods("GET")

	// Debug relay (not rate limited, long lived)
	api.HandleFunc("/session/ws", h.RelayDevtools).Methods("GET")

	r.Use(corsMiddleware)
	r.Use(LoggingMiddleware(h.logger))

	return r
}

// Server runs the status API until its context ends.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a server for handler on addr
func NewServer(addr string, h *Handler, limiter *ratelimit.Limiter) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h.SetupRoutes(limiter),
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: h.logger,
	}
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status API listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("status API forced to shut down", zap.Error(err))
		return err
	}
	s.logger.Info("status API stopped")
	return nil
}
