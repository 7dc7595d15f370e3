// Package config provides YAML-based configuration for the batch service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the root configuration document.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Records  RecordsConfig  `yaml:"records"`
	Events   EventsConfig   `yaml:"events"`
	Worker   WorkerConfig   `yaml:"worker"`
	Batch    BatchConfig    `yaml:"batch"`
	Sessions SessionsConfig `yaml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port             int           `yaml:"port"`
	BindAddress      string        `yaml:"bind_address"`
	PublicURL        string        `yaml:"public_url"`
	EnableCORS       bool          `yaml:"enable_cors"`
	AllowOrigins     []string      `yaml:"allow_origins"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	BodyLimit        string        `yaml:"body_limit"`
}

// StorageConfig contains object storage settings.
type StorageConfig struct {
	DataDirectory    string `yaml:"data_directory"`
	DocsBucket       string `yaml:"docs_bucket"`
	ResultsBucket    string `yaml:"results_bucket"`
	MaxResultBytes   int64  `yaml:"max_result_bytes"`
	AllowedFileTypes string `yaml:"allowed_file_types"`
}

// RecordsConfig contains record store settings. An empty DatabasePath
// keeps the records in memory.
type RecordsConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// EventsConfig selects the change-event bus.
type EventsConfig struct {
	Driver string      `yaml:"driver"` // memory or redis
	Buffer int         `yaml:"buffer"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// WorkerConfig describes the remote extraction worker.
type WorkerConfig struct {
	URL           string        `yaml:"url"`
	Secret        string        `yaml:"secret"`
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
	HealthTimeout time.Duration `yaml:"health_timeout"`
}

// BatchConfig tunes the batch lifecycle.
type BatchConfig struct {
	WatchInterval  time.Duration `yaml:"watch_interval"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	ExhaustedLabel string        `yaml:"exhausted_label_policy"` // reuse_first or empty
}

// SessionsConfig controls client session retention.
type SessionsConfig struct {
	MaxSessions     int           `yaml:"max_sessions"`
	MaxAge          time.Duration `yaml:"max_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"` // console or json
	RequestLogging bool   `yaml:"request_logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:             8090,
			BindAddress:      "0.0.0.0",
			EnableCORS:       true,
			AllowOrigins:     []string{"*"},
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			BodyLimit:        "512M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			DocsBucket:       "docs",
			ResultsBucket:    "results",
			MaxResultBytes:   32 << 20,
			AllowedFileTypes: ".pdf",
		},
		Records: RecordsConfig{
			DatabasePath: "./data/records.duckdb",
		},
		Events: EventsConfig{
			Driver: "memory",
			Buffer: 256,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "extractord:",
			},
		},
		Worker: WorkerConfig{
			URL:           "",
			NotifyTimeout: 10 * time.Second,
			HealthTimeout: 5 * time.Second,
		},
		Batch: BatchConfig{
			WatchInterval:  1500 * time.Millisecond,
			FetchTimeout:   15 * time.Second,
			ExhaustedLabel: "reuse_first",
		},
		Sessions: SessionsConfig{
			MaxSessions:     50,
			MaxAge:          30 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "console",
			RequestLogging: true,
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file is
// created with the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// Save writes the configuration as YAML.
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# PDF batch extraction service configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides lets environment variables override config values.
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		c.Server.PublicURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Storage.DataDirectory = v
	}
	if v := os.Getenv("RECORDS_DB"); v != "" {
		c.Records.DatabasePath = v
	}
	if v := os.Getenv("WORKER_URL"); v != "" {
		c.Worker.URL = v
	}
	if v := os.Getenv("WORKER_SECRET"); v != "" {
		c.Worker.Secret = v
	}
	if v := os.Getenv("EVENTS_DRIVER"); v != "" {
		c.Events.Driver = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Events.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Events.Redis.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// resolvePaths converts relative paths to absolute based on the config file location.
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if c.Records.DatabasePath != "" && !filepath.IsAbs(c.Records.DatabasePath) {
		c.Records.DatabasePath = filepath.Join(configDir, c.Records.DatabasePath)
	}
}

// Validate checks the configuration for errors.
func (c *AppConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Events.Driver != "memory" && c.Events.Driver != "redis" {
		return fmt.Errorf("invalid events driver: %s", c.Events.Driver)
	}
	if c.Events.Driver == "redis" && c.Events.Redis.Addr == "" {
		return fmt.Errorf("events driver redis needs redis.addr")
	}
	if c.Storage.DocsBucket == "" || c.Storage.ResultsBucket == "" {
		return fmt.Errorf("storage buckets must be named")
	}
	if c.Storage.DocsBucket == c.Storage.ResultsBucket {
		return fmt.Errorf("docs and results buckets must differ: %s", c.Storage.DocsBucket)
	}
	if c.Batch.WatchInterval <= 0 {
		return fmt.Errorf("batch.watch_interval must be positive")
	}
	switch c.Batch.ExhaustedLabel {
	case "reuse_first", "empty":
	default:
		return fmt.Errorf("invalid exhausted_label_policy: %s", c.Batch.ExhaustedLabel)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// GetServerAddr returns the server bind address.
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// GetPublicURL returns the base URL workers use to reach this service.
func (c *AppConfig) GetPublicURL() string {
	if c.Server.PublicURL != "" {
		return c.Server.PublicURL
	}
	host := c.Server.BindAddress
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Server.Port)
}

// BucketDir returns the directory holding a bucket's objects.
func (c *AppConfig) BucketDir(bucket string) string {
	return filepath.Join(c.Storage.DataDirectory, "storage", bucket)
}

// EnsureDirectories creates all necessary directories.
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.BucketDir(c.Storage.DocsBucket),
		c.BucketDir(c.Storage.ResultsBucket),
	}
	if c.Records.DatabasePath != "" {
		dirs = append(dirs, filepath.Dir(c.Records.DatabasePath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
