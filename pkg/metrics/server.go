package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultListen is the metrics listen address used when none is configured.
const DefaultListen = ":9090"

// shutdownGrace bounds a shutdown triggered by context cancellation.
const shutdownGrace = 5 * time.Second

// Server exposes the global registry over HTTP.
//
//   - GET /metrics serves the registry (503 while metrics are disabled)
//   - GET /healthz answers "ok"
type Server struct {
	http *http.Server

	mu       sync.Mutex
	bound    net.Addr
	stopOnce sync.Once
	stopErr  error
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Addr is the listen address. Defaults to DefaultListen.
	Addr string
}

// NewServer builds a stopped server. Call Start to serve.
func NewServer(config ServerConfig) *Server {
	addr := config.Addr
	if addr == "" {
		addr = DefaultListen
	}

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           newMux(),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       time.Minute,
		},
	}
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()

	if reg := GetRegistry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintln(w, "ok")
	})

	return mux
}

// Start serves until ctx is cancelled, then shuts down. It returns nil
// after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("metrics server failed to listen on %s: %w", s.http.Addr, err)
	}

	s.mu.Lock()
	s.bound = ln.Addr()
	s.mu.Unlock()

	served := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on %s", ln.Addr())
		served <- s.http.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.Stop(stopCtx)
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Only the first call does any work.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if err := s.http.Shutdown(ctx); err != nil {
			s.stopErr = fmt.Errorf("metrics server shutdown: %w", err)
			logger.Error("Metrics server shutdown: %v", err)
			return
		}
		logger.Debug("Metrics server stopped")
	})
	return s.stopErr
}

// Addr returns the bound address once Start is listening, and the
// configured address before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != nil {
		return s.bound.String()
	}
	return s.http.Addr
}
