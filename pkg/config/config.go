// Package config loads shuttle configuration from file, environment and
// defaults.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (SHUTTLE_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stackdrop/shuttle/internal/bytesize"
)

// Config represents the shuttle configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// StateRoot is the directory holding the queue, progress and catalog
	// documents plus lock directories and worker pid file.
	StateRoot string `mapstructure:"state_root" validate:"required" yaml:"state_root"`

	// Storage configures the object-storage backend.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Worker configures the background worker lifecycle.
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`

	// Bundle configures the chunked transfer subsystem.
	Bundle BundleConfig `mapstructure:"bundle" yaml:"bundle"`

	// Transfer configures individual artifact downloads.
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`

	// API configures the HTTP server (serve command).
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Webhook is the base endpoint for completion notifications. Recognized
	// but not acted on; notification delivery is handled by an external
	// control plane.
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// StorageConfig configures the S3 (or S3-compatible) backend.
type StorageConfig struct {
	// Bucket is the object-storage bucket (required for remote operations).
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the AWS region (optional, SDK default if empty).
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the S3 endpoint, for MinIO/Localstack.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// KeyPrefix is prepended to every object key.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// ForcePathStyle forces path-style addressing.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// WorkerConfig controls the background worker.
type WorkerConfig struct {
	// GracePeriod is how long the worker tolerates an empty queue before
	// exiting on its own.
	GracePeriod time.Duration `mapstructure:"grace_period" validate:"gt=0" yaml:"grace_period"`

	// PollInterval is how often the worker re-checks the queue and the
	// cancellation flags.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0" yaml:"poll_interval"`

	// SkipGlobalStop disables global-stop enforcement. Test-only.
	SkipGlobalStop bool `mapstructure:"skip_global_stop" yaml:"skip_global_stop,omitempty"`
}

// BundleConfig controls chunked directory transfer.
type BundleConfig struct {
	// ChunkSize bounds each chunk. Accepts human-readable sizes ("64MB").
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// MinCompressSize is the threshold below which chunks are stored raw.
	MinCompressSize bytesize.ByteSize `mapstructure:"min_compress_size" yaml:"min_compress_size"`

	// DisableCompression turns compression off globally. The chunk,
	// manifest and checksum discipline is unchanged.
	DisableCompression bool `mapstructure:"disable_compression" yaml:"disable_compression,omitempty"`

	// Parallelism bounds concurrent chunk uploads/downloads per artifact.
	Parallelism int `mapstructure:"parallelism" validate:"gte=0" yaml:"parallelism"`

	// Prefix is the remote namespace for bundles.
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// TransferConfig controls single-artifact downloads.
type TransferConfig struct {
	// Timeout bounds one artifact transfer. Zero means no limit.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0" yaml:"timeout,omitempty"`
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	// Listen is the address the server binds, e.g. ":8080".
	Listen string `mapstructure:"listen" yaml:"listen"`

	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout bounds idle keep-alive connections.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// MetricsConfig configures Prometheus metrics.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// WebhookConfig names the external notification endpoint.
type WebhookConfig struct {
	// Endpoint is the base URL notified on completion (external concern).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location and falls back to pure
// defaults when no file exists there.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configFileFound {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(v, &cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to path in YAML form.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file
// settings. Environment variables use the SHUTTLE_ prefix and underscores,
// e.g. SHUTTLE_STORAGE_BUCKET=my-bucket.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SHUTTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides picks up environment variables for the fields viper's
// AutomaticEnv cannot see when no config file bound the keys.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if s := v.GetString("state_root"); s != "" {
		cfg.StateRoot = s
	}
	if s := v.GetString("storage.bucket"); s != "" {
		cfg.Storage.Bucket = s
	}
	if s := v.GetString("storage.region"); s != "" {
		cfg.Storage.Region = s
	}
	if s := v.GetString("storage.endpoint"); s != "" {
		cfg.Storage.Endpoint = s
	}
	if s := v.GetString("webhook.endpoint"); s != "" {
		cfg.Webhook.Endpoint = s
	}
	if v.IsSet("worker.skip_global_stop") && v.GetBool("worker.skip_global_stop") {
		cfg.Worker.SkipGlobalStop = true
	}
	if v.IsSet("bundle.disable_compression") && v.GetBool("bundle.disable_compression") {
		cfg.Bundle.DisableCompression = true
	}
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize so
// config files can use "64MB", "1Gi" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// use "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path, using
// XDG_CONFIG_HOME if set, otherwise ~/.config.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "shuttle")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "shuttle")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
