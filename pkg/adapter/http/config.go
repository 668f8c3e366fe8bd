package http

import (
	"fmt"
	"time"

	"github.com/marmos91/dittomount/pkg/controlplane"
)

const (
	// DefaultMaxContentSize bounds request bodies (8 MiB).
	DefaultMaxContentSize = 8 * 1024 * 1024

	// DefaultMaxResponseSize bounds JSON documents and downloads (8 MiB).
	DefaultMaxResponseSize = 8 * 1024 * 1024

	// DefaultHistoryLimit is the number of commits returned by /history/list.
	DefaultHistoryLimit = 20
)

// Config holds configuration parameters for the HTTP control plane endpoint.
//
// Default values (applied by New if zero):
//   - Port: 15410
//   - ReadTimeout: 60s
//   - WriteTimeout: 60s
//   - IdleTimeout: 2m
//   - ShutdownTimeout: 30s
//   - MaxContentSize: 8 MiB
//   - MaxResponseSize: 8 MiB
//   - HistoryLimit: 20
type Config struct {
	// Port is the TCP port to listen on. If 0, defaults to 15410.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// ReadTimeout bounds reading a complete request, body included.
	// Uploads of large images over slow links need a generous value.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing a response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout closes keep-alive connections idle for longer.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout bounds graceful shutdown when Stop is called without
	// a deadline.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MaxContentSize is the largest accepted request body in bytes.
	// Larger bodies are rejected with 413.
	MaxContentSize int64 `mapstructure:"max_content_size" validate:"min=0"`

	// MaxResponseSize is the largest response in bytes. JSON documents that
	// would exceed it fail with RESP_TOO_LARGE; larger downloads get 413.
	MaxResponseSize int64 `mapstructure:"max_response_size" validate:"min=0"`

	// HistoryLimit is the number of commits returned by /history/list.
	HistoryLimit int `mapstructure:"history_limit" validate:"min=0"`

	// RateLimit throttles mutating requests.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures the token bucket applied to uploads and commits.
// RequestsPerSecond 0 disables throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"min=0"`
	Burst             int     `mapstructure:"burst" validate:"min=0"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = controlplane.ServicePort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxContentSize == 0 {
		c.MaxContentSize = DefaultMaxContentSize
	}
	if c.MaxResponseSize == 0 {
		c.MaxResponseSize = DefaultMaxResponseSize
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
}

// validate checks that the configuration is usable.
func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("invalid timeouts (read=%v write=%v idle=%v): must be >= 0",
			c.ReadTimeout, c.WriteTimeout, c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.MaxContentSize <= 0 {
		return fmt.Errorf("invalid MaxContentSize %d: must be > 0", c.MaxContentSize)
	}
	if c.MaxResponseSize <= 0 {
		return fmt.Errorf("invalid MaxResponseSize %d: must be > 0", c.MaxResponseSize)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("invalid rate limit %v/%d: must be >= 0",
			c.RateLimit.RequestsPerSecond, c.RateLimit.Burst)
	}
	return nil
}
