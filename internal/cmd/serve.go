package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/config"
	"github.com/marmos91/dittomount/pkg/server"
	"github.com/spf13/cobra"
)

// ErrTeardown is returned by Execute when a client asked the service to hand
// control back to the primary image. main maps it to ExitTeardown.
var ErrTeardown = server.ErrTeardown

// ExitTeardown is the process exit code after a teardown request, so a
// supervisor can tell it apart from a crash or a signal.
const ExitTeardown = 3

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control plane",
	Long: `Start the HTTP control plane and serve until interrupted or until a
client commits a batch, which requests a teardown.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Step 1: Metrics
	// ========================================================================

	m := config.InitializeMetrics(cfg)
	if m.Server != nil {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()
		go func() {
			if err := m.Server.Start(metricsCtx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	// ========================================================================
	// Step 2: Control plane and adapters
	// ========================================================================

	rt, err := config.BuildRuntime(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("Failed to close runtime: %v", err)
		}
	}()

	srv := server.New(rt.Service, cfg.Server.ShutdownTimeout)
	for _, a := range config.CreateAdapters(cfg, rt) {
		if err := srv.AddAdapter(a); err != nil {
			return fmt.Errorf("failed to add %s adapter: %w", a.Protocol(), err)
		}
	}

	logger.Info("DittoMount control plane starting (root %s, nonce %d)",
		rt.Service.Layout().Root, rt.Service.State().Nonce())

	// ========================================================================
	// Step 3: Serve until signal or teardown
	// ========================================================================

	err = srv.Serve(ctx)
	switch {
	case errors.Is(err, server.ErrTeardown):
		logger.Info("Teardown requested, handing control back")
		return err
	case err != nil:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// loadConfig loads the configuration and applies the logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return nil, err
	}
	return cfg, nil
}
