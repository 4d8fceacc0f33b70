package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ReadyFunc reports whether the service can take traffic.
type ReadyFunc func(ctx context.Context) error

// Server provides HTTP endpoints for observability.
type Server struct {
	server *http.Server
	addr   string
}

// NewServer creates a new observability HTTP server. ready backs /readyz;
// nil means always ready.
func NewServer(addr string, ready ReadyFunc) *Server {
	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:         addr,
			Handler:      Handler(ready),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler serves /metrics, /healthz and /readyz.
func Handler(ready ReadyFunc) http.Handler {
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				log.Warn().Err(err).Msg("Readiness check failed")
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	return mux
}

// ListenAndServe serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.addr).Msg("Starting observability HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down observability HTTP server")
	return s.server.Shutdown(ctx)
}
