package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/stackdrop/shuttle/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyStateRootDefaults(cfg)
	applyWorkerDefaults(&cfg.Worker)
	applyBundleDefaults(&cfg.Bundle)
	applyAPIDefaults(&cfg.API)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyStateRootDefaults(cfg *Config) {
	if cfg.StateRoot == "" {
		cfg.StateRoot = filepath.Join("/var", "lib", "shuttle")
	}
}

func applyWorkerDefaults(cfg *WorkerConfig) {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
}

func applyBundleDefaults(cfg *BundleConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 64 * bytesize.MiB
	}
	if cfg.MinCompressSize == 0 {
		cfg.MinCompressSize = 4 * bytesize.KiB
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = 4
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "bundles"
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// GetDefaultConfig returns a Config with all default values applied. Useful
// for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
