// Package config loads rentald configuration from YAML or JSON files with
// environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/go-rental-sync/changes"
	"github.com/c0deZ3R0/go-rental-sync/logging"
)

const (
	defaultGeocoderURL   = "https://nominatim.openstreetmap.org"
	defaultGeocoderAgent = "rentald/1.0"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the complete rentald configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Search    SearchConfig    `json:"search" yaml:"search"`
	Realtime  RealtimeConfig  `json:"realtime" yaml:"realtime"`
	Geocoding GeocodingConfig `json:"geocoding" yaml:"geocoding"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Logging   logging.Config  `json:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr                string `json:"addr" yaml:"addr"`
	ReadHeaderTimeoutMs int    `json:"read_header_timeout_ms,omitempty" yaml:"read_header_timeout_ms,omitempty"`
	ShutdownTimeoutMs   int    `json:"shutdown_timeout_ms,omitempty" yaml:"shutdown_timeout_ms,omitempty"`
}

// StorageConfig selects the primary listing store.
type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// SearchConfig configures the full-text index. With the sqlite driver an
// empty DSN keeps the index in the listing database.
type SearchConfig struct {
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// RealtimeConfig configures long-poll and push delivery.
type RealtimeConfig struct {
	// DevEndpoints enables POST trigger and reset.
	DevEndpoints bool `json:"dev_endpoints" yaml:"dev_endpoints"`
	// PushOnly stops mutations from advancing the long-poll version.
	PushOnly bool `json:"push_only,omitempty" yaml:"push_only,omitempty"`
	// DefaultTimeoutMs is used when a long-poll request omits timeoutMs.
	DefaultTimeoutMs int `json:"default_timeout_ms,omitempty" yaml:"default_timeout_ms,omitempty"`
	// QueueSize bounds undelivered push messages per connection.
	QueueSize int `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
}

// GeocodingConfig configures the Nominatim client used to resolve listing
// addresses and serve address suggestions.
type GeocodingConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	// Language is sent as accept-language. Empty leaves it to the server.
	Language  string `json:"language,omitempty" yaml:"language,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                ":8080",
			ReadHeaderTimeoutMs: 10000,
			ShutdownTimeoutMs:   15000,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			DSN:    "file:rental.db",
		},
		Realtime: RealtimeConfig{
			DefaultTimeoutMs: int(changes.DefaultTimeout / time.Millisecond),
			QueueSize:        64,
		},
		Geocoding: GeocodingConfig{
			Enabled:   true,
			BaseURL:   defaultGeocoderURL,
			UserAgent: defaultGeocoderAgent,
			Language:  "uk",
			TimeoutMs: 5000,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "rental",
		},
		Logging: logging.DefaultConfig,
	}
}

// LoadFromFile reads a YAML or JSON file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return LoadFromBytes(data, detectFormat(path))
}

// LoadFromBytes parses data over the defaults.
func LoadFromBytes(data []byte, format string) (*Config, error) {
	config := Default()
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}
	return config, nil
}

// ApplyEnv overrides fields from RENTAL_* variables and the logging
// variables understood by logging.ApplyEnv.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("RENTAL_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RENTAL_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("RENTAL_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("RENTAL_SEARCH_DSN"); v != "" {
		c.Search.DSN = v
	}
	if v := os.Getenv("RENTAL_DEV_ENDPOINTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RENTAL_DEV_ENDPOINTS %q: %w", v, err)
		}
		c.Realtime.DevEndpoints = b
	}
	if v := os.Getenv("RENTAL_PUSH_ONLY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RENTAL_PUSH_ONLY %q: %w", v, err)
		}
		c.Realtime.PushOnly = b
	}
	if v := os.Getenv("RENTAL_GEOCODER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RENTAL_GEOCODER %q: %w", v, err)
		}
		c.Geocoding.Enabled = b
	}
	if v := os.Getenv("RENTAL_GEOCODER_URL"); v != "" {
		c.Geocoding.BaseURL = v
	}
	if v := os.Getenv("RENTAL_METRICS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RENTAL_METRICS %q: %w", v, err)
		}
		c.Metrics.Enabled = b
	}
	c.Logging = logging.ApplyEnv(c.Logging)
	return nil
}

// Validate checks required fields and normalizes the rest.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ReadHeaderTimeoutMs <= 0 {
		c.Server.ReadHeaderTimeoutMs = 10000
	}
	if c.Server.ShutdownTimeoutMs <= 0 {
		c.Server.ShutdownTimeoutMs = 15000
	}

	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if c.Search.DSN == "" && c.Storage.Driver == DriverPostgres {
		c.Search.DSN = "file:search.db"
	}

	timeout := changes.ClampTimeout(time.Duration(c.Realtime.DefaultTimeoutMs) * time.Millisecond)
	c.Realtime.DefaultTimeoutMs = int(timeout / time.Millisecond)
	if c.Realtime.QueueSize <= 0 {
		c.Realtime.QueueSize = 64
	}
	if c.Geocoding.BaseURL == "" {
		c.Geocoding.BaseURL = defaultGeocoderURL
	}
	if c.Geocoding.UserAgent == "" {
		c.Geocoding.UserAgent = defaultGeocoderAgent
	}
	if c.Geocoding.TimeoutMs <= 0 {
		c.Geocoding.TimeoutMs = 5000
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "rental"
	}
	return nil
}

// DefaultTimeout returns the long-poll default as a duration.
func (r RealtimeConfig) DefaultTimeout() time.Duration {
	return time.Duration(r.DefaultTimeoutMs) * time.Millisecond
}

// Timeout returns the per-request geocoder budget.
func (g GeocodingConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutMs) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown budget.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutMs) * time.Millisecond
}

// ReadHeaderTimeout returns the HTTP read header timeout.
func (s ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(s.ReadHeaderTimeoutMs) * time.Millisecond
}

// detectFormat determines file format from extension.
func detectFormat(path string) string {
	ext := strings.ToLower(path[strings.LastIndex(path, ".")+1:])
	switch ext {
	case "yml", "yaml":
		return "yaml"
	case "json":
		return "json"
	default:
		return "yaml"
	}
}
