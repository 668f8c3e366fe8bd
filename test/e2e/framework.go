package e2e

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/config"
	"github.com/marmos91/dittomount/pkg/server"
)

// TestContext provides a complete testing environment with:
// - A running control plane on a free port
// - A host directory playing the SD card
// - Cleanup mechanisms
type TestContext struct {
	T       *testing.T
	Config  *TestConfig
	Runtime *config.Runtime
	Server  *server.Server
	Client  *http.Client
	BaseURL string
	Port    int

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	serveErr chan error
	tempDirs []string
}

// NewTestContext creates a new test environment with the specified configuration
// and starts the server.
func NewTestContext(t *testing.T, cfg *TestConfig) *TestContext {
	t.Helper()

	tc := &TestContext{
		T:      t,
		Config: cfg,
		Client: &http.Client{Timeout: 30 * time.Second},
	}

	tc.start()
	return tc
}

// start builds the runtime from the configuration and serves it in the
// background.
func (tc *TestContext) start() {
	tc.T.Helper()

	// Always use ERROR level to keep test output clean
	logger.SetLevel("ERROR")

	tc.Port = findFreePort(tc.T)
	tc.BaseURL = fmt.Sprintf("http://127.0.0.1:%d", tc.Port)
	tc.ctx, tc.cancel = context.WithCancel(context.Background())

	cfg := tc.Config.ServiceConfig(tc)

	rt, err := config.BuildRuntime(tc.ctx, cfg, nil)
	if err != nil {
		tc.T.Fatalf("Failed to build runtime: %v", err)
	}
	tc.Runtime = rt

	tc.Server = server.New(rt.Service, 5*time.Second)
	for _, a := range config.CreateAdapters(cfg, rt) {
		if err := tc.Server.AddAdapter(a); err != nil {
			tc.T.Fatalf("Failed to add %s adapter: %v", a.Protocol(), err)
		}
	}

	tc.serveErr = make(chan error, 1)
	tc.wg.Add(1)
	go func() {
		defer tc.wg.Done()
		tc.serveErr <- tc.Server.Serve(tc.ctx)
	}()

	tc.waitForServer()
}

// waitForServer waits for the HTTP endpoint to accept connections
func (tc *TestContext) waitForServer() {
	tc.T.Helper()

	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			tc.T.Fatal("Timeout waiting for server to start")
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", tc.Port), time.Second)
			if err == nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// WaitStopped waits for Serve to return on its own (after a teardown) and
// returns its error.
func (tc *TestContext) WaitStopped(timeout time.Duration) error {
	tc.T.Helper()

	select {
	case err := <-tc.serveErr:
		tc.serveErr = nil
		return err
	case <-time.After(timeout):
		tc.T.Fatalf("Server did not stop within %v", timeout)
		return nil
	}
}

// stop cancels the server (if still running) and releases the runtime.
func (tc *TestContext) stop() {
	if tc.cancel != nil {
		tc.cancel()
	}
	tc.wg.Wait()

	if tc.Runtime != nil {
		if err := tc.Runtime.Close(); err != nil {
			tc.T.Logf("Failed to close runtime: %v", err)
		}
		tc.Runtime = nil
	}
}

// Restart stops the server and starts a fresh one on the same SD card and
// history database, the way the device reboots into the service image.
func (tc *TestContext) Restart() {
	tc.T.Helper()

	tc.stop()
	tc.start()
}

// Cleanup stops the server and removes temporary files
func (tc *TestContext) Cleanup() {
	tc.T.Helper()

	tc.stop()

	for _, dir := range tc.tempDirs {
		_ = os.RemoveAll(dir)
	}
}

// URL returns the absolute URL of a route
func (tc *TestContext) URL(route string) string {
	return tc.BaseURL + route
}

// CreateTempDir creates a temporary directory and registers it for cleanup
func (tc *TestContext) CreateTempDir(prefix string) string {
	tc.T.Helper()

	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		tc.T.Fatalf("Failed to create temp directory: %v", err)
	}
	tc.tempDirs = append(tc.tempDirs, dir)
	return dir
}

// GetConfig returns the test configuration
func (tc *TestContext) GetConfig() *TestConfig {
	return tc.Config
}

// GetPort returns the server port
func (tc *TestContext) GetPort() int {
	return tc.Port
}

// findFreePort finds an available TCP port
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer func() { _ = listener.Close() }()

	return listener.Addr().(*net.TCPAddr).Port
}
