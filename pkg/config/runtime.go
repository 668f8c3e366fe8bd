package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittomount/pkg/adapter"
	httpadapter "github.com/marmos91/dittomount/pkg/adapter/http"
	"github.com/marmos91/dittomount/pkg/archive"
	"github.com/marmos91/dittomount/pkg/controlplane"
	"github.com/marmos91/dittomount/pkg/history"
	"github.com/marmos91/dittomount/pkg/layout"
	"github.com/spf13/afero"
)

// Runtime bundles the components built from a Config.
type Runtime struct {
	// Filesystem is the emulated SD card
	Filesystem afero.Fs

	// Service is the control plane
	Service *controlplane.Service

	// History is the commit log (nil if disabled)
	History *history.Store

	// Archive mirrors committed images (nil if disabled)
	Archive *archive.Sink

	// Metrics holds the metrics collectors and server
	Metrics *MetricsResult
}

// BuildRuntime creates the filesystem, optional commit hooks and the control
// plane service described by cfg.
//
// Commit hooks run in a fixed order: history first, archive second.
//
// The caller must call Close on the returned Runtime.
func BuildRuntime(ctx context.Context, cfg *Config, m *MetricsResult) (*Runtime, error) {
	if m == nil {
		m = InitializeMetrics(&Config{})
	}

	fs, err := CreateFilesystem(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Filesystem: fs, Metrics: m}

	var hooks []controlplane.CommitHook

	rt.History, err = CreateHistory(ctx, &cfg.History)
	if err != nil {
		return nil, err
	}
	if rt.History != nil {
		hooks = append(hooks, rt.History)
	}

	rt.Archive, err = CreateArchive(ctx, &cfg.Archive, m.Archive)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if rt.Archive != nil {
		hooks = append(hooks, rt.Archive)
	}

	rt.Service, err = controlplane.New(fs, controlplane.Options{
		Layout:  layout.New(cfg.Storage.Root),
		Port:    cfg.Server.Port,
		Metrics: m.ControlPlane,
		Hooks:   hooks,
	})
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to create control plane: %w", err)
	}

	return rt, nil
}

// CreateAdapters creates the protocol adapters for rt.
func CreateAdapters(cfg *Config, rt *Runtime) []adapter.Adapter {
	httpAdapter := httpadapter.New(cfg.Server.Config, rt.Metrics.HTTP)
	if rt.History != nil {
		httpAdapter.SetHistory(rt.History)
	}
	return []adapter.Adapter{httpAdapter}
}

// Close releases the resources held by rt.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.History != nil {
		if err := rt.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
	}
	return errors.Join(errs...)
}
