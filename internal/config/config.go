// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/alertctl.
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
// Geo index backends
// --------------------------------------------------------------------------

const (
	GeoIndexExact   = "exact"
	GeoIndexPostGIS = "postgis"
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

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool
	LogLevel    string
	LogFormat   string // text, json

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Weather provider
	WeatherAPIKey            string
	WeatherAPIURL            string
	WeatherRequestsPerMinute int
	WeatherTimeout           time.Duration

	// Web Push (VAPID)
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	PushTimeout     time.Duration
	PushConcurrency int
	PushTTL         time.Duration

	// Anomaly scheduler
	SchedulerEnabled         bool
	SchedulerInterval        time.Duration
	SchedulerLocationDelay   time.Duration
	SchedulerLocationTimeout time.Duration
	SchedulerMaxLocations    int
	SchedulerRunOnStart      bool

	// Geofencing and alerts
	GeoIndex       string // exact, postgis
	AlertTTL       time.Duration
	AlertsCacheTTL time.Duration
	AdminToken     string

	// Alert event stream
	KafkaBrokers    []string
	KafkaAlertTopic string

	// Candidate listener
	ListenerEnabled bool
	ListenerChannel string

	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, errors.New("DATABASE_URL must be set")
	}

	cfg := &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8080)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "text"),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:5173",
			"http://localhost:5175",
			"http://localhost:8080",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		WeatherAPIKey:            envOr("WEATHER_API_KEY", ""),
		WeatherAPIURL:            envOr("WEATHER_API_URL", "https://api.weatherapi.com/v1"),
		WeatherRequestsPerMinute: envInt("WEATHER_REQUESTS_PER_MINUTE", 60),

		VAPIDPublicKey:  envOr("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: envOr("VAPID_PRIVATE_KEY", ""),
		VAPIDSubject:    envOr("VAPID_SUBJECT", "mailto:admin@climaguard.com"),
		PushConcurrency: envInt("PUSH_CONCURRENCY", 8),
		PushTTL:         time.Duration(envInt("PUSH_TTL_SECONDS", 86400)) * time.Second,

		SchedulerEnabled:      envBool("SCHEDULER_ENABLED", true),
		SchedulerMaxLocations: envInt("SCHEDULER_MAX_LOCATIONS", 50),
		SchedulerRunOnStart:   envBool("SCHEDULER_RUN_ON_START", false),

		GeoIndex:   strings.ToLower(envOr("GEO_INDEX", GeoIndexExact)),
		AdminToken: envOr("ADMIN_TOKEN", ""),

		KafkaBrokers:    envList("KAFKA_BROKERS", nil),
		KafkaAlertTopic: envOr("KAFKA_ALERT_TOPIC", "climaguard-alerts"),

		ListenerEnabled: envBool("LISTENER_ENABLED", true),
		ListenerChannel: envOr("LISTENER_CHANNEL", "alert_candidates"),
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"WEATHER_TIMEOUT", 5 * time.Second, &cfg.WeatherTimeout},
		{"PUSH_TIMEOUT", 5 * time.Second, &cfg.PushTimeout},
		{"SCHEDULER_INTERVAL", 30 * time.Minute, &cfg.SchedulerInterval},
		{"SCHEDULER_LOCATION_DELAY", time.Second, &cfg.SchedulerLocationDelay},
		{"SCHEDULER_LOCATION_TIMEOUT", 2 * time.Minute, &cfg.SchedulerLocationTimeout},
		{"ALERT_TTL", 24 * time.Hour, &cfg.AlertTTL},
		{"ALERTS_CACHE_TTL", 30 * time.Second, &cfg.AlertsCacheTTL},
		{"SHUTDOWN_TIMEOUT", 10 * time.Second, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		v, err := envDuration(d.key, d.fallback)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.GeoIndex != GeoIndexExact && c.GeoIndex != GeoIndexPostGIS {
		return fmt.Errorf("GEO_INDEX must be %q or %q, got %q", GeoIndexExact, GeoIndexPostGIS, c.GeoIndex)
	}
	if c.SchedulerMaxLocations < 1 {
		return errors.New("SCHEDULER_MAX_LOCATIONS must be positive")
	}
	if c.PushConcurrency < 1 {
		return errors.New("PUSH_CONCURRENCY must be positive")
	}
	if c.WeatherRequestsPerMinute < 1 {
		return errors.New("WEATHER_REQUESTS_PER_MINUTE must be positive")
	}
	return nil
}

// ValidatePipeline checks the credentials needed to evaluate conditions and
// deliver pushes. Commands that only touch the database skip it.
func (c *Config) ValidatePipeline() error {
	if c.VAPIDPublicKey == "" || c.VAPIDPrivateKey == "" {
		return errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set")
	}
	if c.SchedulerEnabled && c.WeatherAPIKey == "" {
		return errors.New("WEATHER_API_KEY is required when SCHEDULER_ENABLED is true")
	}
	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// UsePostGIS reports whether spatial queries run on PostGIS indexes.
func (c *Config) UsePostGIS() bool {
	return c.GeoIndex == GeoIndexPostGIS
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

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
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
