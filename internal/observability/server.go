package observability

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Readiness is flipped on once the service can accept streams and off when
// it starts draining.
type Readiness struct {
	ready atomic.Bool
}

func (r *Readiness) SetReady(v bool) { r.ready.Store(v) }
func (r *Readiness) Ready() bool     { return r.ready.Load() }

// Handler answers 200 "ready" or 503 "not ready".
func (r *Readiness) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !r.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// Liveness always answers 200 "ok".
func Liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Server serves the HTTP surface: metrics, health and the enrollment proxy.
type Server struct {
	server *http.Server
	addr   string
}

// NewServer creates an HTTP server for handler. WriteTimeout leaves room for
// enrollment calls, which may retry.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      2 * time.Minute,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	log.Info().Str("addr", s.addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
