package adapter

import (
	"context"

	"github.com/marmos91/dittomount/pkg/controlplane"
)

// Adapter represents a transport that exposes the control plane and can be
// managed by the server.
//
// Lifecycle:
//  1. Creation: Adapter is created with transport-specific configuration
//  2. Injection: SetService() provides the shared control plane
//  3. Startup: Serve() starts listening and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetService() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the transport and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// If Serve returns before context cancellation, the server treats it as
	// a fatal error and stops all other adapters.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - context.Canceled if cancelled via context
	//   - error if startup fails or shutdown is not graceful
	Serve(ctx context.Context) error

	// SetService injects the control plane.
	//
	// Called exactly once by the server before Serve().
	SetService(svc *controlplane.Service)

	// Stop initiates graceful shutdown. It must be idempotent, safe to call
	// concurrently with Serve(), and respect the context deadline.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable transport name for logging and metrics.
	Protocol() string

	// Port returns the TCP port the adapter listens on.
	Port() int
}
