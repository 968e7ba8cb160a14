package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Fetcher  FetcherConfig
	Lister   ListerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type FetcherConfig struct {
	Timeout             time.Duration
	MaxAttempts         int
	MaxRateLimitRetries int
	BaseDelay           time.Duration
	Multiplier          float64
	MaxDelay            time.Duration
	RespectRetryAfter   bool
	MinBodyBytes        int
	MaxBodyBytes        int64
	MaxRedirects        int
	UserAgents          []string
}

type ListerConfig struct {
	MaxItems     int
	ItemDelayMin time.Duration
	ItemDelayMax time.Duration
}

type DatabaseConfig struct {
	// DSN enables the scrape-history store when non-empty.
	DSN string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 120*time.Second),
			RequestTimeout:  getDurationOrDefault("SERVER_REQUEST_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Fetcher: FetcherConfig{
			Timeout:             getDurationOrDefault("FETCHER_TIMEOUT", 10*time.Second),
			MaxAttempts:         getIntOrDefault("FETCHER_MAX_ATTEMPTS", 3),
			MaxRateLimitRetries: getIntOrDefault("FETCHER_MAX_RATE_LIMIT_RETRIES", 3),
			BaseDelay:           getDurationOrDefault("FETCHER_BASE_DELAY", 100*time.Millisecond),
			Multiplier:          getFloatOrDefault("FETCHER_BACKOFF_MULTIPLIER", 2),
			MaxDelay:            getDurationOrDefault("FETCHER_MAX_DELAY", 1*time.Second),
			RespectRetryAfter:   getBoolOrDefault("FETCHER_RESPECT_RETRY_AFTER", true),
			MinBodyBytes:        getIntOrDefault("FETCHER_MIN_BODY_BYTES", 1000),
			MaxBodyBytes:        int64(getIntOrDefault("FETCHER_MAX_BODY_BYTES", 5*1024*1024)),
			MaxRedirects:        getIntOrDefault("FETCHER_MAX_REDIRECTS", 5),
			UserAgents:          getStringSliceOrDefault("FETCHER_USER_AGENTS", nil),
		},
		Lister: ListerConfig{
			MaxItems:     getIntOrDefault("LISTER_MAX_ITEMS", 10),
			ItemDelayMin: getDurationOrDefault("LISTER_ITEM_DELAY_MIN", 500*time.Millisecond),
			ItemDelayMax: getDurationOrDefault("LISTER_ITEM_DELAY_MAX", 1500*time.Millisecond),
		},
		Database: DatabaseConfig{
			DSN: getEnvOrDefault("DATABASE_URL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Fetcher.MaxAttempts < 1 {
		return fmt.Errorf("FETCHER_MAX_ATTEMPTS must be at least 1")
	}
	if c.Fetcher.MaxRateLimitRetries < 0 {
		return fmt.Errorf("FETCHER_MAX_RATE_LIMIT_RETRIES must not be negative")
	}
	if c.Fetcher.Multiplier < 1 {
		return fmt.Errorf("FETCHER_BACKOFF_MULTIPLIER must be at least 1")
	}
	if c.Lister.MaxItems < 1 {
		return fmt.Errorf("LISTER_MAX_ITEMS must be at least 1")
	}
	if c.Lister.ItemDelayMin > c.Lister.ItemDelayMax {
		return fmt.Errorf("LISTER_ITEM_DELAY_MIN cannot be greater than LISTER_ITEM_DELAY_MAX")
	}
	// A single fetch must exhaust both retry budgets well inside the
	// caller's deadline; this is enforced at configuration time, not
	// checked at runtime.
	if worst := c.WorstCaseFetchDuration(); worst >= c.Server.RequestTimeout {
		return fmt.Errorf("fetch retry budget (%s worst case) exceeds SERVER_REQUEST_TIMEOUT (%s)",
			worst, c.Server.RequestTimeout)
	}
	return nil
}

// WorstCaseFetchDuration bounds a single Fetch call: every transient and
// rate-limit attempt timing out, plus the maximum backoff between them.
// Rate-limit jitter adds at most 10%, and Retry-After is capped at
// MaxDelay, so MaxDelay bounds every rate-limit wait before jitter.
func (c *Config) WorstCaseFetchDuration() time.Duration {
	f := c.Fetcher
	attempts := f.MaxAttempts + f.MaxRateLimitRetries + 1
	perAttempt := time.Duration(attempts) * f.Timeout

	transientBackoff := time.Duration(f.MaxAttempts-1) * f.BaseDelay
	rateLimitBackoff := time.Duration(float64(f.MaxRateLimitRetries) * float64(f.MaxDelay) * 1.1)

	return perAttempt + transientBackoff + rateLimitBackoff
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
