package config

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/archive"
	"github.com/marmos91/dittomount/pkg/history"
	"github.com/marmos91/dittomount/pkg/metrics"
	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
)

// CreateFilesystem creates the filesystem the control plane operates on.
//
// Supported types:
//   - "os": the host directory BasePath, exposed as the filesystem root so
//     that the storage root (/1541) lives at <BasePath>/1541
//   - "memory": an ephemeral in-memory filesystem (tests, demos)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Storage configuration
//
// Returns:
//   - afero.Fs: Filesystem rooted at the emulated SD card
//   - error: Configuration or initialization error
func CreateFilesystem(ctx context.Context, cfg *StorageConfig) (afero.Fs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return afero.NewMemMapFs(), nil
	case "os":
		base, err := ExpandPath(cfg.BasePath)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if base == "" {
			return nil, fmt.Errorf("storage: base_path is required for type os")
		}
		if err := os.MkdirAll(base, 0755); err != nil {
			return nil, fmt.Errorf("storage: failed to create %s: %w", base, err)
		}
		logger.Info("Storage: %s (root %s)", base, cfg.Root)
		return afero.NewBasePathFs(afero.NewOsFs(), base), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %q (supported: os, memory)", cfg.Type)
	}
}

// CreateHistory opens the commit history store.
//
// Returns (nil, nil) when history is disabled.
func CreateHistory(ctx context.Context, cfg *HistoryConfig) (*history.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Type {
	case "badger":
		hc, err := decodeHistoryConfig(cfg.Badger)
		if err != nil {
			return nil, fmt.Errorf("failed to decode badger history config: %w", err)
		}

		store, err := history.Open(ctx, hc)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}

		if hc.InMemory {
			logger.Info("History: in-memory badger")
		} else {
			logger.Info("History: %s", hc.DBPath)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown history type: %q (supported: badger)", cfg.Type)
	}
}

// CreateArchive builds the archive sink that mirrors committed images.
//
// Returns (nil, nil) when the archive is disabled.
func CreateArchive(ctx context.Context, cfg *ArchiveConfig, m metrics.ArchiveMetrics) (*archive.Sink, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Type {
	case "s3":
		sc, err := decodeS3Config(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to decode S3 archive config: %w", err)
		}

		client, err := archive.NewS3Client(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}

		logger.Info("Archive: bucket=%s, region=%s, prefix=%s", sc.Bucket, sc.Region, sc.KeyPrefix)
		return archive.NewSink(client, sc.Bucket, sc.KeyPrefix, m), nil
	default:
		return nil, fmt.Errorf("unknown archive type: %q (supported: s3)", cfg.Type)
	}
}

// decodeHistoryConfig decodes the badger options map and expands ~ in db_path.
func decodeHistoryConfig(options map[string]any) (history.Config, error) {
	var hc history.Config
	if err := decodeOptions(options, &hc); err != nil {
		return hc, err
	}

	path, err := ExpandPath(hc.DBPath)
	if err != nil {
		return hc, err
	}
	hc.DBPath = path
	return hc, nil
}

// decodeS3Config decodes the s3 options map.
func decodeS3Config(options map[string]any) (archive.S3Config, error) {
	var sc archive.S3Config
	err := decodeOptions(options, &sc)
	return sc, err
}

// decodeOptions decodes a backend options map into result.
//
// Values coming from environment variables arrive as strings, so weak typing
// is enabled.
func decodeOptions(options map[string]any, result any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           result,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand %q: %w", path, err)
	}
	return expanded, nil
}
