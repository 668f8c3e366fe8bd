package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/adapter"
	"github.com/marmos91/dittomount/pkg/controlplane"
)

// ErrTeardown is returned by Serve when a client request asked the service
// to hand control back to the primary firmware.
var ErrTeardown = errors.New("teardown requested")

// DefaultStopTimeout bounds how long adapters get to finish in-flight
// requests once shutdown starts.
const DefaultStopTimeout = 30 * time.Second

// Server manages the lifecycle of the adapters exposing one control plane.
//
// Lifecycle:
//  1. Creation: New() with the control plane service
//  2. Registration: AddAdapter() for each transport
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: context cancellation, an adapter failure, or a teardown
//     request stops every adapter
//
// Thread safety:
// AddAdapter() may be called concurrently with other methods until Serve()
// is called. Serve() must only be called once.
//
// Example usage:
//
//	srv := server.New(svc, 30*time.Second)
//	srv.AddAdapter(http.New(httpConfig, nil))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	err := srv.Serve(ctx)
//	if errors.Is(err, server.ErrTeardown) {
//	    // reboot into the primary image
//	}
type Server struct {
	svc         *controlplane.Service
	stopTimeout time.Duration

	// mu protects adapters and served
	mu       sync.Mutex
	adapters []adapter.Adapter
	served   bool
}

// New creates a Server for svc. A stopTimeout <= 0 selects DefaultStopTimeout.
//
// Panics if svc is nil (indicates programmer error).
func New(svc *controlplane.Service, stopTimeout time.Duration) *Server {
	if svc == nil {
		panic("control plane service cannot be nil")
	}
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Server{
		svc:         svc,
		stopTimeout: stopTimeout,
		adapters:    make([]adapter.Adapter, 0, 1),
	}
}

// AddAdapter injects the service into a and registers it.
//
// Returns an error when another adapter already uses the same protocol or
// port, or when Serve() has already been called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return errors.New("cannot add adapter after Serve() has been called")
	}

	for _, existing := range s.adapters {
		if existing.Protocol() == a.Protocol() {
			return fmt.Errorf("adapter for protocol %s already registered", a.Protocol())
		}
		if existing.Port() == a.Port() {
			return fmt.Errorf("port %d already in use by %s adapter", a.Port(), existing.Protocol())
		}
	}

	a.SetService(s.svc)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", a.Protocol(), a.Port())
	return nil
}

// Serve starts all registered adapters and blocks until one of:
//   - ctx is cancelled: returns ctx.Err()
//   - an adapter fails: returns its error
//   - a client requested teardown: returns ErrTeardown
//
// In every case all adapters are stopped (in reverse registration order)
// and Serve waits for them to return.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("Serve() has already been called on this server instance")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting control plane with %d adapter(s), nonce %d", len(adapters), s.svc.State().Nonce())

	// Adapters get their own context so a teardown can stop them without
	// the caller cancelling ctx.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			if err := a.Serve(runCtx); err != nil && !errors.Is(err, context.Canceled) && runCtx.Err() == nil {
				logger.Error("%s adapter failed: %v", a.Protocol(), err)
				errChan <- adapterError{protocol: a.Protocol(), err: err}
				return
			}
			logger.Debug("%s adapter stopped", a.Protocol())
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case <-s.svc.State().TeardownRequested():
		logger.Info("Teardown requested by client, stopping adapters")
		shutdownErr = ErrTeardown

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	s.stopAll(adapters)
	cancel()
	wg.Wait()

	logger.Info("Control plane stopped")
	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAll calls Stop on every adapter in reverse registration order, sharing
// one stopTimeout deadline. Errors are logged and do not stop the sweep.
func (s *Server) stopAll(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		}
	}
}

// Adapters returns a snapshot of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]adapter.Adapter, len(s.adapters))
	copy(out, s.adapters)
	return out
}
