package observability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const metricsShutdownTimeout = 5 * time.Second

// MetricsServer exposes Prometheus metrics over HTTP on a dedicated
// address, separate from the game transport port.
type MetricsServer struct {
	addr     string
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	srv      *http.Server
	listener net.Listener
	done     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewMetricsServer creates a metrics server that serves the given gatherer
// under /metrics.
//
// Precondition: gatherer and logger must be non-nil.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *MetricsServer {
	return &MetricsServer{
		addr:     addr,
		gatherer: gatherer,
		logger:   logger,
	}
}

// Start binds the listener and begins serving requests in the background.
//
// Precondition: The server must not already be running.
// Postcondition: The listener is bound, or a non-nil error is returned.
func (s *MetricsServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("metrics server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.listener = listener
	s.done = make(chan struct{})
	s.running = true

	s.logger.Info("metrics server listening",
		zap.String("addr", listener.Addr().String()),
	)

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and waits for the serve
// goroutine to exit.
func (s *MetricsServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown", zap.Error(err))
	}
	<-s.done

	s.logger.Info("metrics server stopped")
}

// Addr returns the actual listening address, or empty string if not running.
func (s *MetricsServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the server is currently serving.
func (s *MetricsServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
