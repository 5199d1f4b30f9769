// Package server coordinates the startup and shutdown of the long-running
// components that make up the game server process.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service represents a long-running component with a non-blocking start.
type Service interface {
	// Start launches the service's background work and returns promptly.
	// A nil error means the service is up.
	Start() error
	// Stop gracefully stops the service and waits for its background
	// work to finish.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// Runner manages the startup and shutdown of multiple services.
// Services are started in order and stopped in reverse order.
type Runner struct {
	logger   *zap.Logger
	services []namedService
	mu       sync.Mutex
}

type namedService struct {
	name    string
	service Service
}

// NewRunner creates a new service Runner.
//
// Precondition: logger must be non-nil.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{
		logger: logger,
	}
}

// Add registers a named service. Services are started in the order they
// are added.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (r *Runner) Add(name string, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = append(r.services, namedService{name: name, service: svc})
}

// Run starts all services, blocks until a termination signal is received
// (SIGINT or SIGTERM) or ctx is cancelled, then stops the services in
// reverse order.
//
// If a service fails to start, the services already running are stopped
// and the start error is returned.
//
// Postcondition: All started services are stopped when this method returns.
func (r *Runner) Run(ctx context.Context) error {
	start := time.Now()

	for i, ns := range r.services {
		r.logger.Info("starting service",
			zap.String("service", ns.name),
		)
		if err := ns.service.Start(); err != nil {
			r.logger.Error("service failed to start",
				zap.String("service", ns.name),
				zap.Error(err),
			)
			r.stopServices(i - 1)
			return fmt.Errorf("starting service %s: %w", ns.name, err)
		}
	}

	r.logger.Info("all services started",
		zap.Int("count", len(r.services)),
		zap.Duration("startup", time.Since(start)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		r.logger.Info("received signal, shutting down",
			zap.String("signal", sig.String()),
		)
	case <-ctx.Done():
		r.logger.Info("context cancelled, shutting down")
	}

	r.stopServices(len(r.services) - 1)

	r.logger.Info("shutdown complete",
		zap.Duration("total_uptime", time.Since(start)),
	)
	return nil
}

// stopServices stops services[0..last] in reverse order.
func (r *Runner) stopServices(last int) {
	shutdownStart := time.Now()
	for i := last; i >= 0; i-- {
		ns := r.services[i]
		svcStart := time.Now()
		r.logger.Info("stopping service",
			zap.String("service", ns.name),
		)
		ns.service.Stop()
		r.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(svcStart)),
		)
	}
	r.logger.Info("all services stopped",
		zap.Duration("shutdown_elapsed", time.Since(shutdownStart)),
	)
}
