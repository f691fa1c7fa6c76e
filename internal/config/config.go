package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/harliandi/go-shrink/pkg/jpeg"
	"github.com/harliandi/go-shrink/pkg/quality"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds application configuration
type Config struct {
	Port            int
	MaxUploadMB     int
	TargetSizeKB    int
	MaxConcurrent   int
	RateLimitPerSec int
	RateLimitBurst  int
	WorkerCount     int

	// Quality search
	Iterations    int
	MinQuality    float64
	MaxQuality    float64
	Encoder       string
	SearchTimeout time.Duration
	CacheEntries  int
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	cfg := &Config{
		Port:            getEnvInt("PORT", 8080),
		MaxUploadMB:     getEnvInt("MAX_UPLOAD_MB", 20),
		TargetSizeKB:    getEnvInt("TARGET_SIZE_KB", 500),
		MaxConcurrent:   getEnvInt("MAX_CONCURRENT", 50),
		RateLimitPerSec: getEnvInt("RATE_LIMIT", 10),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 20),
		WorkerCount:     getEnvInt("WORKER_COUNT", 10),
		Iterations:      getEnvInt("SEARCH_ITERATIONS", quality.DefaultIterations),
		MinQuality:      getEnvFloat("MIN_QUALITY", quality.DefaultMinQuality),
		MaxQuality:      getEnvFloat("MAX_QUALITY", quality.DefaultMaxQuality),
		Encoder:         getEnvString("ENCODER", "std"),
		SearchTimeout:   getEnvDuration("SEARCH_TIMEOUT", 30*time.Second),
		CacheEntries:    getEnvInt("CACHE_ENTRIES", 128),
	}
	return cfg
}

// SearchOptions returns the configured quality search options
func (c *Config) SearchOptions() quality.Options {
	return quality.Options{
		Iterations: c.Iterations,
		MinQuality: c.MinQuality,
		MaxQuality: c.MaxQuality,
	}
}

// TargetBytes returns the default target size in bytes
func (c *Config) TargetBytes() int64 {
	return int64(c.TargetSizeKB) * 1024
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("%w: max upload %dMB", ErrInvalidConfig, c.MaxUploadMB)
	}
	if c.TargetSizeKB <= 0 {
		return fmt.Errorf("%w: target size %dKB", ErrInvalidConfig, c.TargetSizeKB)
	}
	if c.MaxConcurrent <= 0 || c.WorkerCount <= 0 {
		return fmt.Errorf("%w: max concurrent %d, workers %d", ErrInvalidConfig, c.MaxConcurrent, c.WorkerCount)
	}
	if c.RateLimitPerSec <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("%w: rate limit %d/s burst %d", ErrInvalidConfig, c.RateLimitPerSec, c.RateLimitBurst)
	}
	if c.SearchTimeout <= 0 {
		return fmt.Errorf("%w: search timeout %v", ErrInvalidConfig, c.SearchTimeout)
	}
	if c.CacheEntries < 0 {
		return fmt.Errorf("%w: cache entries %d", ErrInvalidConfig, c.CacheEntries)
	}
	if err := c.SearchOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := jpeg.ByName(c.Encoder); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultValue
}
