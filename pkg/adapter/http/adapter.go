// Package http exposes the control plane over HTTP/JSON on the service port.
//
// Routes:
//
//	GET       /hello                        session nonce and journal fingerprint
//	PUT|POST  /upload/active                stage one image and commit it
//	PUT|POST  /upload/active/add            stage one image into the batch
//	POST      /upload/active/commit         commit the batch
//	GET       /active/list                  active set
//	GET       /active/download/{i}[/{name}] raw bytes of active file i
//	GET       /modified/list                journal entries
//	GET       /modified/download/{i}[/...]  raw bytes of journal entry i
//	GET       /modified/archive.zip         every journal entry as a zip
//	GET       /history/list                 recent commits (when enabled)
//
// Protocol failures are reported in-band with status 200 and
// {"ok":false,"error":"<CODE>"}. A method not supported by a known route
// gets 501, an unknown path 404.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/internal/ratelimiter"
	"github.com/marmos91/dittomount/pkg/controlplane"
	"github.com/marmos91/dittomount/pkg/history"
	"github.com/marmos91/dittomount/pkg/metrics"
)

// HistoryLister is the read side of the commit history.
type HistoryLister interface {
	Recent(ctx context.Context, limit int) ([]history.Commit, error)
}

// Adapter implements adapter.Adapter for the HTTP control plane.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. http.Server.Shutdown stops accepting connections
//  3. In-flight requests finish (up to the Stop deadline)
//
// Thread safety:
// All methods are safe for concurrent use. Stop() is idempotent.
type Adapter struct {
	config  Config
	metrics metrics.HTTPMetrics
	limiter *ratelimiter.RateLimiter

	mu      sync.Mutex
	svc     *controlplane.Service
	history HistoryLister
	server  *http.Server
	stopped bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an Adapter. Zero values in config are replaced with defaults;
// a nil m disables metrics.
//
// Panics if config validation fails.
func New(config Config, m metrics.HTTPMetrics) *Adapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid HTTP config: %v", err))
	}
	if m == nil {
		m = metrics.NewNoopHTTPMetrics()
	}

	limiter := ratelimiter.New(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst)
	if limiter != nil {
		logger.Debug("HTTP rate limit: %.2f req/s, burst %d", limiter.Limit(), limiter.Burst())
	}

	return &Adapter{
		config:  config,
		metrics: m,
		limiter: limiter,
	}
}

// SetService injects the control plane.
func (a *Adapter) SetService(svc *controlplane.Service) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.svc = svc
	logger.Debug("HTTP control plane configured")
}

// SetHistory enables /history/list.
func (a *Adapter) SetHistory(h HistoryLister) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = h
}

// Handler returns the request router. SetService must have been called.
func (a *Adapter) Handler() http.Handler {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.svc == nil {
		panic("HTTP adapter: SetService must be called before Handler")
	}
	return newHandler(a.svc, a.history, a.config, a.limiter, a.metrics)
}

// Serve listens on the configured port and blocks until ctx is cancelled
// or Stop is called.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener cannot be created or serving fails
func (a *Adapter) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create HTTP listener on port %d: %w", a.config.Port, err)
	}
	return a.serve(ctx, listener)
}

func (a *Adapter) serve(ctx context.Context, listener net.Listener) error {
	handler := a.Handler()

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	a.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	}
	srv := a.server
	a.mu.Unlock()

	logger.Info("HTTP control plane listening on %s", listener.Addr())

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		_ = a.Stop(stopCtx)
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server, waiting for in-flight requests
// until ctx expires. Concurrent callers block until the first shutdown
// completes and share its result.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.stopped = true
	srv := a.server
	a.mu.Unlock()

	if srv == nil {
		return nil
	}

	a.shutdownOnce.Do(func() {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("HTTP shutdown incomplete: %v", err)
			_ = srv.Close()
			a.shutdownErr = err
			return
		}
		logger.Info("HTTP graceful shutdown complete")
	})
	return a.shutdownErr
}

// Port returns the configured TCP port.
func (a *Adapter) Port() int {
	return a.config.Port
}

// Protocol returns "HTTP".
func (a *Adapter) Protocol() string {
	return "HTTP"
}
