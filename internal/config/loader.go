package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Storage
	if cfg.Storage.Backend != "" && !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: sqlite, memory", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == BackendSQLite && cfg.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required when storage.backend is sqlite"))
	}
	if cfg.Storage.Backend == BackendMemory {
		slog.Warn("storage.backend is memory; recordings and history will not survive a restart")
	}

	// Recording
	if cfg.Recording.BufferChunks < 0 {
		errs = append(errs, fmt.Errorf("recording.buffer_chunks %d must not be negative", cfg.Recording.BufferChunks))
	}

	// Correction
	if cfg.Correction.Threshold != 0 && (cfg.Correction.Threshold < 1 || cfg.Correction.Threshold > 100) {
		errs = append(errs, fmt.Errorf("correction.threshold %d is out of range [1, 100]", cfg.Correction.Threshold))
	}

	// Cache
	if cfg.Cache.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("cache.concurrency %d must not be negative", cfg.Cache.Concurrency))
	}
	if len(cfg.Cache.Passages) > 0 && cfg.Cache.SourceURL == "" {
		slog.Warn("cache.passages configured without cache.source_url; passages will only resolve from already-cached or seeded text")
	}
	for i, p := range cfg.Cache.Passages {
		if err := p.Reference().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("cache.passages[%d]: %w", i, err))
		}
	}

	// Connectivity
	if cfg.Connectivity.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("connectivity.refresh_interval %v must not be negative", cfg.Connectivity.RefreshInterval))
	}

	return errors.Join(errs...)
}
