// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/tracker and cmd/trackctl.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Redis keys and channels shared by every process
// --------------------------------------------------------------------------

const (
	PendingBufferKey   = "locations:pending"
	InboundQueueKey    = "queue:location-update"
	LiveUpdatesChannel = "fanout:locations"
	AlertsChannel      = "fanout:alerts"
	MembershipChannel  = "group_membership_changed"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration
	RunMigrations  bool

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Ops server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Ingest
	IngestWorkers int
	EventTimeout  time.Duration
	OracleTimeout time.Duration
	StoreTimeout  time.Duration

	// Geofencing
	ZoneStateTTL  time.Duration
	AlertCooldown time.Duration

	// Flush + retention
	FlushInterval     time.Duration
	MinDistanceMeters float64
	RetentionInterval time.Duration
	RetentionWindow   time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	cfg := &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,
		RunMigrations:  envBool("RUN_MIGRATIONS", true),

		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envOr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		IngestWorkers: envInt("INGEST_WORKERS", 8),
		EventTimeout:  envDuration("EVENT_TIMEOUT", 5*time.Second),
		OracleTimeout: envDuration("ORACLE_TIMEOUT", 2*time.Second),
		StoreTimeout:  envDuration("STORE_TIMEOUT", 8*time.Second),

		ZoneStateTTL:  envDuration("ZONE_STATE_TTL", 10*time.Minute),
		AlertCooldown: envDuration("ALERT_COOLDOWN", 5*time.Minute),

		FlushInterval:     envDuration("FLUSH_INTERVAL", 10*time.Second),
		MinDistanceMeters: envFloat("MIN_DISTANCE_METERS", 10),
		RetentionInterval: envDuration("RETENTION_INTERVAL", 10*time.Minute),
		RetentionWindow:   envDuration("RETENTION_WINDOW", 10*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.IngestWorkers < 1 {
		errs = append(errs, fmt.Errorf("INGEST_WORKERS must be >= 1, got %d", c.IngestWorkers))
	}
	if c.MinDistanceMeters <= 0 {
		errs = append(errs, fmt.Errorf("MIN_DISTANCE_METERS must be positive, got %v", c.MinDistanceMeters))
	}
	for name, d := range map[string]time.Duration{
		"EVENT_TIMEOUT":    c.EventTimeout,
		"ORACLE_TIMEOUT":   c.OracleTimeout,
		"STORE_TIMEOUT":    c.StoreTimeout,
		"ZONE_STATE_TTL":   c.ZoneStateTTL,
		"ALERT_COOLDOWN":   c.AlertCooldown,
		"RETENTION_WINDOW": c.RetentionWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	return errors.Join(errs...)
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("10s") or bare seconds ("10").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
