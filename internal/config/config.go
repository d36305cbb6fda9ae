// Package config provides the configuration schema, loader, backend registry,
// and file watcher for the Murattil recitation practice server.
package config

import (
	"time"

	"github.com/adnsalim/murattil/internal/quran"
)

// LogLevel controls log verbosity for the Murattil server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Backend selects the content-store implementation.
type Backend string

const (
	// BackendSQLite stores content in an embedded SQLite database on disk.
	BackendSQLite Backend = "sqlite"

	// BackendMemory keeps content in process memory. Nothing survives a
	// restart; intended for tests and throwaway runs.
	BackendMemory Backend = "memory"
)

// IsValid reports whether b is a recognised storage backend.
func (b Backend) IsValid() bool {
	return b == BackendSQLite || b == BackendMemory
}

// Config is the root configuration structure for Murattil.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Recording    RecordingConfig    `yaml:"recording"`
	Correction   CorrectionConfig   `yaml:"correction"`
	Cache        CacheConfig        `yaml:"cache"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
}

// ServerConfig holds network and logging settings for the Murattil server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// StorageConfig selects and configures the content store.
type StorageConfig struct {
	// Backend selects the store implementation. Default: "sqlite".
	Backend Backend `yaml:"backend"`

	// Path is the database file location for the sqlite backend
	// (e.g., "/var/lib/murattil/content.db"). Ignored by the memory backend.
	Path string `yaml:"path"`
}

// RecordingConfig tunes the capture pipeline.
type RecordingConfig struct {
	// OpusDecode makes the capture endpoint decode incoming frames as Opus
	// packets. When false, frames are stored as sent (raw PCM clients).
	OpusDecode bool `yaml:"opus_decode"`

	// BufferChunks is the capture stream's chunk buffer capacity.
	// Default: 256.
	BufferChunks int `yaml:"buffer_chunks"`
}

// CorrectionConfig tunes the correction engine.
type CorrectionConfig struct {
	// Threshold is the score at and above which a recitation counts as
	// correct, in [1, 100]. Default: 85.
	Threshold int `yaml:"threshold"`
}

// CacheConfig configures background text-cache population.
type CacheConfig struct {
	// SourceURL is the API root texts are fetched from
	// (e.g., "https://api.alquran.cloud/v1"). Empty disables population;
	// the server then runs on whatever text is already cached or seeded.
	SourceURL string `yaml:"source_url"`

	// Edition selects the text edition at the source. Default: "quran-simple".
	Edition string `yaml:"edition"`

	// Concurrency bounds parallel fetches during population. Default: 4.
	Concurrency int `yaml:"concurrency"`

	// Passages lists the references to cache ahead of time.
	Passages []PassageConfig `yaml:"passages"`
}

// PassageConfig names one reference to pre-cache.
type PassageConfig struct {
	Surah   int `yaml:"surah"`
	Ayah    int `yaml:"ayah"`
	EndAyah int `yaml:"end_ayah"`
}

// Reference converts the passage to a [quran.Reference].
func (p PassageConfig) Reference() quran.Reference {
	return quran.Reference{Surah: p.Surah, Ayah: p.Ayah, EndAyah: p.EndAyah}
}

// ConnectivityConfig tunes the connectivity tracker.
type ConnectivityConfig struct {
	// RefreshInterval is how often the tracker refreshes its storage usage
	// snapshot in the background. Zero disables the periodic refresh.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// AssumeOnline sets the tracker's initial connectivity state before the
	// first report arrives. Default: true.
	AssumeOnline *bool `yaml:"assume_online"`
}
