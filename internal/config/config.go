package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the voiceforge server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Artifacts  ArtifactsConfig
	Generation GenerationConfig
	RateLimit  RateLimitConfig
	Cache      CacheConfig
	Cleanup    CleanupConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type ArtifactsConfig struct {
	Dir        string
	TempMaxAge time.Duration
}

type GenerationConfig struct {
	Engine          string
	EngineBaseURL   string
	Workers         int
	QueueDepth      int
	JobTimeout      time.Duration
	MaxRetries      int
	SyncWaitTimeout time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type CacheConfig struct {
	ResultTTL time.Duration
}

type CleanupConfig struct {
	Interval     time.Duration
	JobRetention time.Duration
	StaleAfter   time.Duration
	BucketMaxAge time.Duration
}

var validEngines = map[string]bool{
	"http": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("VOICEFORGE_PORT", 8080),
			Env:  envString("VOICEFORGE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Artifacts: ArtifactsConfig{
			Dir:        envString("ARTIFACTS_DIR", "artifacts"),
			TempMaxAge: envDuration("ARTIFACTS_TEMP_MAX_AGE", time.Hour),
		},
		Generation: GenerationConfig{
			Engine:          envString("GENERATION_ENGINE", "http"),
			EngineBaseURL:   os.Getenv("GENERATION_ENGINE_BASE_URL"),
			Workers:         envInt("GENERATION_WORKERS", 2),
			QueueDepth:      envInt("GENERATION_QUEUE_DEPTH", 64),
			JobTimeout:      envDurationSecs("GENERATION_JOB_TIMEOUT_SECS", 5*time.Minute),
			MaxRetries:      envInt("GENERATION_MAX_RETRIES", 2),
			SyncWaitTimeout: envDurationSecs("GENERATION_SYNC_WAIT_SECS", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
			Burst:             envInt("RATE_LIMIT_BURST", 0),
		},
		Cache: CacheConfig{
			ResultTTL: envDuration("CACHE_RESULT_TTL", time.Hour),
		},
		Cleanup: CleanupConfig{
			Interval:     envDuration("CLEANUP_INTERVAL", 5*time.Minute),
			JobRetention: envDuration("CLEANUP_JOB_RETENTION", 24*time.Hour),
			StaleAfter:   envDuration("CLEANUP_STALE_AFTER", 10*time.Minute),
			BucketMaxAge: envDuration("CLEANUP_BUCKET_MAX_AGE", time.Hour),
		},
	}

	// Burst defaults to the per-minute rate, matching a full bucket per client.
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.RequestsPerMinute
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validEngines[c.Generation.Engine] {
		return fmt.Errorf("GENERATION_ENGINE must be http; got %q", c.Generation.Engine)
	}
	if c.Generation.EngineBaseURL == "" {
		return fmt.Errorf("GENERATION_ENGINE_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Generation.EngineBaseURL, "http://") && !strings.HasPrefix(c.Generation.EngineBaseURL, "https://") {
		return fmt.Errorf("GENERATION_ENGINE_BASE_URL must start with http:// or https://, got %q", c.Generation.EngineBaseURL)
	}

	if c.Generation.Workers < 1 {
		return fmt.Errorf("GENERATION_WORKERS must be at least 1, got %d", c.Generation.Workers)
	}
	if c.Generation.QueueDepth < 1 {
		return fmt.Errorf("GENERATION_QUEUE_DEPTH must be at least 1, got %d", c.Generation.QueueDepth)
	}
	if c.Generation.MaxRetries < 0 {
		return fmt.Errorf("GENERATION_MAX_RETRIES must not be negative, got %d", c.Generation.MaxRetries)
	}

	if c.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be at least 1, got %d", c.RateLimit.RequestsPerMinute)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
