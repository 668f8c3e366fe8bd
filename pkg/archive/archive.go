// Package archive mirrors committed disk images to S3-compatible object
// storage.
//
// The Sink is registered as a controlplane.CommitHook. After each successful
// commit it uploads every committed image under a per-commit key prefix plus
// a small JSON manifest, so the bucket keeps a browsable history of what was
// mounted and when.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/controlplane"
	"github.com/marmos91/dittomount/pkg/metrics"
	"github.com/spf13/afero"
)

// DefaultMaxRetries is the retry budget for S3 calls when none is configured.
const DefaultMaxRetries = 10

const manifestName = "manifest.json"

// ObjectPutter is the subset of the S3 client used by the Sink.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config contains the S3 connection settings.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// Validate checks the required fields.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("archive: bucket is required")
	}
	if c.Region == "" {
		return errors.New("archive: region is required")
	}
	return nil
}

// NewS3Client builds an S3 client from cfg.
//
// A custom endpoint (MinIO, Localstack, ...) switches to path-style
// addressing. Without static credentials the default AWS credential chain is
// used.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}

	if cfg.Endpoint != "" {
		//nolint:staticcheck // BaseEndpoint migration pending
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // BaseEndpoint migration pending
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // BaseEndpoint migration pending
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(resolver))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		provider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(provider))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	}), nil
}

// Sink uploads committed images to a bucket.
//
// Thread safety:
// Safe for concurrent use. The control plane calls OnCommit under its own
// lock, so uploads for different commits never interleave.
type Sink struct {
	client    ObjectPutter
	bucket    string
	keyPrefix string
	metrics   metrics.ArchiveMetrics
}

// NewSink creates a Sink writing to bucket through client.
// A nil m disables metrics.
func NewSink(client ObjectPutter, bucket, keyPrefix string, m metrics.ArchiveMetrics) *Sink {
	if m == nil {
		m = metrics.NewNoopArchiveMetrics()
	}
	return &Sink{
		client:    client,
		bucket:    bucket,
		keyPrefix: strings.Trim(keyPrefix, "/"),
		metrics:   m,
	}
}

// Name implements controlplane.CommitHook.
func (s *Sink) Name() string { return "archive" }

// manifest is the per-commit JSON document stored next to the images.
type manifest struct {
	Time  time.Time       `json:"time"`
	Nonce uint32          `json:"nonce"`
	Files []manifestEntry `json:"files"`
}

type manifestEntry struct {
	Name  string `json:"name"`
	Size  uint32 `json:"size"`
	CRC32 string `json:"crc32"`
	Key   string `json:"key"`
}

// OnCommit uploads each committed file and then the manifest.
//
// Upload failures of individual files are collected and returned together;
// the manifest is only written when every file made it.
func (s *Sink) OnCommit(ctx context.Context, fs afero.Fs, rec controlplane.CommitRecord) error {
	prefix := s.CommitPrefix(rec)
	m := manifest{Time: rec.Time.UTC(), Nonce: rec.Nonce, Files: make([]manifestEntry, 0, len(rec.Files))}

	var errs []error
	for _, f := range rec.Files {
		key := path.Join(prefix, f.Name)

		data, err := afero.ReadFile(fs, f.Path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", f.Path, err))
			continue
		}

		if err := s.put(ctx, key, data, map[string]string{
			"crc32": fmt.Sprintf("%08x", f.CRC32),
			"nonce": fmt.Sprintf("%d", rec.Nonce),
		}); err != nil {
			errs = append(errs, err)
			continue
		}

		m.Files = append(m.Files, manifestEntry{
			Name:  f.Name,
			Size:  f.Size,
			CRC32: fmt.Sprintf("%08x", f.CRC32),
			Key:   key,
		})
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := s.put(ctx, path.Join(prefix, manifestName), body, nil); err != nil {
		return err
	}

	logger.Info("archive: uploaded %d files to s3://%s/%s", len(m.Files), s.bucket, prefix)
	return nil
}

// CommitPrefix returns the key prefix used for rec's objects:
// <key_prefix>/<UTC timestamp>-<nonce hex>.
func (s *Sink) CommitPrefix(rec controlplane.CommitRecord) string {
	dir := fmt.Sprintf("%s-%08x", rec.Time.UTC().Format("20060102T150405Z"), rec.Nonce)
	if s.keyPrefix == "" {
		return dir
	}
	return s.keyPrefix + "/" + dir
}

func (s *Sink) put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      meta,
	})
	s.metrics.RecordUpload(time.Since(start), int64(len(data)), err)
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return nil
}
