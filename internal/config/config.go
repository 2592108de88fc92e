// Package config provides the configuration of the polyroute service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "POLYROUTE_"

// Config holds the configuration of the polyroute service.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Catalog configuration
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Frequency map configuration
	Frequency FrequencyConfig `json:"frequency" yaml:"frequency"`

	// Storage configuration for catalog snapshots
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`
}

// CatalogConfig selects the catalog backend.
type CatalogConfig struct {
	// Type is the catalog type: memory, sqlite
	Type string `json:"type" yaml:"type"`

	// Path is the SQLite database file (for sqlite type)
	Path string `json:"path" yaml:"path"`
}

// HTTPConfig holds admin HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address of the admin API
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout bounds the graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// FrequencyConfig holds partition access frequency configuration.
type FrequencyConfig struct {
	// Enabled controls whether the frequency map runs
	Enabled bool `json:"enabled" yaml:"enabled"`

	// CheckInterval is the interval between hot/cold evaluations
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`

	// BucketWidth is the width of one access counting bucket
	BucketWidth time.Duration `json:"bucket_width" yaml:"bucket_width"`

	// Retention is how long access buckets are kept
	Retention time.Duration `json:"retention" yaml:"retention"`

	// Workers is the size of the per-table worker pool
	Workers int `json:"workers" yaml:"workers"`
}

// StorageConfig holds snapshot storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// Prefix namespaces every snapshot key inside the bucket
	Prefix string `json:"prefix" yaml:"prefix"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is json or console
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/polyroute",
		Catalog: CatalogConfig{
			Type: "sqlite",
		},
		HTTP: HTTPConfig{
			Addr:            ":8090",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Frequency: FrequencyConfig{
			Enabled:       true,
			CheckInterval: time.Minute,
			BucketWidth:   10 * time.Second,
			Retention:     24 * time.Hour,
			Workers:       4,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/polyroute"
	}
	if c.Catalog.Type == "sqlite" && c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
	if c.Storage.Type == "local" && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "snapshots")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Catalog.Type {
	case "memory":
	case "sqlite":
		if c.Catalog.Path == "" {
			return fmt.Errorf("catalog.path is required when catalog type is sqlite")
		}
	default:
		return fmt.Errorf("invalid catalog type: %s (must be memory or sqlite)", c.Catalog.Type)
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Frequency.Enabled {
		if c.Frequency.CheckInterval <= 0 {
			return fmt.Errorf("frequency.check_interval must be positive, got %s", c.Frequency.CheckInterval)
		}
		if c.Frequency.BucketWidth <= 0 {
			return fmt.Errorf("frequency.bucket_width must be positive, got %s", c.Frequency.BucketWidth)
		}
		if c.Frequency.Retention < c.Frequency.BucketWidth {
			return fmt.Errorf("frequency.retention must be at least one bucket, got %s", c.Frequency.Retention)
		}
		if c.Frequency.Workers < 1 {
			return fmt.Errorf("frequency.workers must be at least 1, got %d", c.Frequency.Workers)
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Log.Format)
	}
	return nil
}

// Load reads an optional config file, applies environment overrides,
// resolves paths and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies POLYROUTE_* environment variables to cfg.
func LoadFromEnv(cfg *Config) error {
	strs := map[string]*string{
		"DATA_DIR":     &cfg.DataDir,
		"CATALOG_TYPE": &cfg.Catalog.Type,
		"CATALOG_PATH": &cfg.Catalog.Path,
		"HTTP_ADDR":    &cfg.HTTP.Addr,
		"STORAGE_TYPE": &cfg.Storage.Type,
		"STORAGE_PATH": &cfg.Storage.Path,
		"S3_BUCKET":    &cfg.Storage.S3.Bucket,
		"S3_REGION":    &cfg.Storage.S3.Region,
		"S3_ENDPOINT":  &cfg.Storage.S3.Endpoint,
		"S3_PREFIX":    &cfg.Storage.S3.Prefix,
		"LOG_LEVEL":    &cfg.Log.Level,
		"LOG_FORMAT":   &cfg.Log.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"HTTP_READ_TIMEOUT":        &cfg.HTTP.ReadTimeout,
		"HTTP_WRITE_TIMEOUT":       &cfg.HTTP.WriteTimeout,
		"HTTP_SHUTDOWN_TIMEOUT":    &cfg.HTTP.ShutdownTimeout,
		"FREQUENCY_CHECK_INTERVAL": &cfg.Frequency.CheckInterval,
		"FREQUENCY_BUCKET_WIDTH":   &cfg.Frequency.BucketWidth,
		"FREQUENCY_RETENTION":      &cfg.Frequency.Retention,
	}
	for key, dst := range durations {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"FREQUENCY_ENABLED": &cfg.Frequency.Enabled,
		"S3_PATH_STYLE":     &cfg.Storage.S3.UsePathStyle,
	}
	for key, dst := range bools {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}

	if v := os.Getenv(EnvPrefix + "FREQUENCY_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sFREQUENCY_WORKERS: %w", EnvPrefix, err)
		}
		cfg.Frequency.Workers = n
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Catalog.Type == "sqlite" && c.Catalog.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Catalog.Path))
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
