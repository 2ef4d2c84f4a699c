// Package config loads the platform configuration envelope from the
// environment and the provider adapter catalog from providers.yaml.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Storage backend types.
const (
	StorageTypeLocal = "local"
	StorageTypeS3    = "s3"
)

// Cache backend types.
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// Config is the umbrella configuration object wired at startup.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Live      LiveConfig      `yaml:"live"`
	STT       STTConfig       `yaml:"stt"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Events    EventsConfig    `yaml:"events"`
}

// StorageConfig selects and parameterizes the blob store backend.
type StorageConfig struct {
	Type         string `yaml:"type"` // local or s3
	LocalDir     string `yaml:"local_dir"`
	S3Bucket     string `yaml:"s3_bucket"`
	S3Region     string `yaml:"s3_region"`
	S3AssumeRole string `yaml:"s3_assume_role_arn"`
	MaxFileSize  int64  `yaml:"max_file_size"` // bytes
}

// RedisConfig holds the Redis connection settings shared by every
// Redis-backed component.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// CacheConfig parameterizes the read-through result cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Type       string        `yaml:"type"` // redis or memory
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxSize    int           `yaml:"max_size"` // memory backend entry cap
}

// RateLimitConfig toggles admission control.
type RateLimitConfig struct {
	Enabled      bool `yaml:"enabled"`
	QuotaEnabled bool `yaml:"quota_enabled"`
}

// LiveConfig carries the streaming engine time constants.
type LiveConfig struct {
	ChunkMs        int64         `yaml:"chunk_ms"`
	OverlapMs      int64         `yaml:"overlap_ms"`
	CommitWindowMs int64         `yaml:"commit_window_ms"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// STTConfig names the primary and fallback providers. Keys given here
// override the credential resolution chain.
type STTConfig struct {
	PrimaryProvider  string `yaml:"primary_provider"`
	PrimaryKey       string `yaml:"primary_key"`
	FallbackProvider string `yaml:"fallback_provider"`
	FallbackKey      string `yaml:"fallback_key"`
	ProvidersPath    string `yaml:"providers_path"`
}

// PipelineConfig sizes the batch worker pool.
type PipelineConfig struct {
	WorkerCount      int `yaml:"worker_count"`
	MaxConcurrentSTT int `yaml:"max_concurrent_stt"`
}

// TelemetryConfig enables trace export when an endpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// EventsConfig enables the per-session JSON Lines audit archive when a
// directory is set.
type EventsConfig struct {
	ArchiveDir string `yaml:"archive_dir"`
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		Storage: StorageConfig{
			Type:        StorageTypeLocal,
			LocalDir:    "./data",
			MaxFileSize: 2 << 30,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Cache: CacheConfig{
			Enabled:    true,
			Type:       CacheTypeMemory,
			DefaultTTL: 5 * time.Minute,
			MaxSize:    10000,
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			QuotaEnabled: true,
		},
		Live: LiveConfig{
			ChunkMs:        5000,
			OverlapMs:      750,
			CommitWindowMs: 3000,
			IdleTimeout:    90 * time.Second,
		},
		STT: STTConfig{
			PrimaryProvider: "whisper",
			ProvidersPath:   "./providers.yaml",
		},
		Pipeline: PipelineConfig{
			WorkerCount:      4,
			MaxConcurrentSTT: 4,
		},
	}
}

// Load builds the configuration from the environment on top of the
// defaults. It returns an error on malformed values rather than
// silently falling back.
func Load() (*Config, error) {
	cfg := Default()
	var errs []error

	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.Storage.Type = getEnv("STORAGE_TYPE", cfg.Storage.Type)
	cfg.Storage.LocalDir = getEnv("LOCAL_STORAGE_DIR", cfg.Storage.LocalDir)
	cfg.Storage.S3Bucket = getEnv("S3_BUCKET_NAME", cfg.Storage.S3Bucket)
	cfg.Storage.S3Region = getEnv("S3_REGION", cfg.Storage.S3Region)
	cfg.Storage.S3AssumeRole = getEnv("S3_ASSUME_ROLE_ARN", cfg.Storage.S3AssumeRole)
	getQuantity("MAX_FILE_SIZE", &cfg.Storage.MaxFileSize, &errs)

	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)

	getBool("CACHE_ENABLED", &cfg.Cache.Enabled, &errs)
	cfg.Cache.Type = getEnv("CACHE_TYPE", cfg.Cache.Type)
	getDuration("CACHE_DEFAULT_TTL", &cfg.Cache.DefaultTTL, &errs)
	if v, ok := os.LookupEnv("CACHE_MAX_SIZE"); ok {
		q, err := resource.ParseQuantity(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid CACHE_MAX_SIZE %q: %w", v, err))
		} else {
			cfg.Cache.MaxSize = int(q.Value())
		}
	}

	getBool("RATE_LIMITING_ENABLED", &cfg.RateLimit.Enabled, &errs)
	getBool("QUOTA_ENABLED", &cfg.RateLimit.QuotaEnabled, &errs)

	getInt64("AUDIO_CHUNK_MS", &cfg.Live.ChunkMs, &errs)
	getInt64("AUDIO_OVERLAP_MS", &cfg.Live.OverlapMs, &errs)
	getInt64("COMMIT_WINDOW_MS", &cfg.Live.CommitWindowMs, &errs)
	if v, ok := os.LookupEnv("MEETING_IDLE_TIMEOUT_SEC"); ok {
		sec, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid MEETING_IDLE_TIMEOUT_SEC %q: %w", v, err))
		} else {
			cfg.Live.IdleTimeout = time.Duration(sec) * time.Second
		}
	}

	cfg.STT.PrimaryProvider = getEnv("STT_PRIMARY_PROVIDER", cfg.STT.PrimaryProvider)
	cfg.STT.PrimaryKey = getEnv("STT_PRIMARY_KEY", cfg.STT.PrimaryKey)
	cfg.STT.FallbackProvider = getEnv("STT_FALLBACK_PROVIDER", cfg.STT.FallbackProvider)
	cfg.STT.FallbackKey = getEnv("STT_FALLBACK_KEY", cfg.STT.FallbackKey)
	cfg.STT.ProvidersPath = getEnv("PROVIDERS_CONFIG", cfg.STT.ProvidersPath)

	getInt("WORKER_COUNT", &cfg.Pipeline.WorkerCount, &errs)
	getInt("MAX_CONCURRENT_STT", &cfg.Pipeline.MaxConcurrentSTT, &errs)

	cfg.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Events.ArchiveDir = getEnv("EVENT_ARCHIVE_DIR", cfg.Events.ArchiveDir)

	if len(errs) > 0 {
		return nil, errs[0]
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the services cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case StorageTypeLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("LOCAL_STORAGE_DIR is required for local storage")
		}
	case StorageTypeS3:
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET_NAME is required for s3 storage")
		}
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q", c.Storage.Type)
	}

	if c.Cache.Type != CacheTypeMemory && c.Cache.Type != CacheTypeRedis {
		return fmt.Errorf("unknown CACHE_TYPE %q", c.Cache.Type)
	}
	if c.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.Live.ChunkMs <= 0 || c.Live.OverlapMs < 0 || c.Live.CommitWindowMs < 0 {
		return fmt.Errorf("live audio windows must be positive")
	}
	if c.Live.OverlapMs*2 >= c.Live.ChunkMs {
		return fmt.Errorf("AUDIO_OVERLAP_MS must be less than half of AUDIO_CHUNK_MS")
	}
	if c.Pipeline.WorkerCount <= 0 || c.Pipeline.MaxConcurrentSTT <= 0 {
		return fmt.Errorf("worker counts must be positive")
	}
	if c.STT.PrimaryProvider == "" {
		return fmt.Errorf("STT_PRIMARY_PROVIDER is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, dst *bool, errs *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return
	}
	*dst = parsed
}

func getInt(key string, dst *int, errs *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return
	}
	*dst = parsed
}

func getInt64(key string, dst *int64, errs *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return
	}
	*dst = parsed
}

func getDuration(key string, dst *time.Duration, errs *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return
	}
	*dst = parsed
}

// getQuantity parses Kubernetes-style quantity strings ("512Mi", "2G")
// into a byte count.
func getQuantity(key string, dst *int64, errs *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	q, err := resource.ParseQuantity(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return
	}
	*dst = q.Value()
}
