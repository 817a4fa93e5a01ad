package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/blog-platform/internal/platform/config"
)

// BreakerConfig mirrors the circuit breaker knobs guarding Redis.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

type EngagementConfig struct {
	config.AppConfig

	DatabaseURL    string
	Production     bool
	MigrateOnStart bool
	JWTSecret      []byte
	GRPCAddr       string

	RedisURL      string
	StatsCacheTTL time.Duration
	Breaker       BreakerConfig

	NATSURL           string
	ReconcileInterval time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads the engagement service configuration on top of the shared
// app config. Only JWT_SECRET is mandatory.
func Load() (EngagementConfig, error) {
	app, err := config.Load()
	if err != nil {
		return EngagementConfig{}, err
	}

	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return EngagementConfig{}, errors.New("JWT_SECRET is required")
	}

	cfg := EngagementConfig{
		AppConfig:      app,
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Production:     strings.EqualFold(strings.TrimSpace(os.Getenv("APP_ENV")), "production"),
		MigrateOnStart: envBool("MIGRATE_ON_START", false),
		JWTSecret:      []byte(secret),
		GRPCAddr:       strings.TrimSpace(os.Getenv("GRPC_ADDR")),

		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		StatsCacheTTL: envDuration("STATS_CACHE_TTL", 30*time.Second),
		Breaker: BreakerConfig{
			MaxRequests:      uint32(envInt("CB_MAX_REQUESTS", 1)),
			Interval:         envDuration("CB_INTERVAL", 60*time.Second),
			Timeout:          envDuration("CB_TIMEOUT", 30*time.Second),
			FailureThreshold: uint32(envInt("CB_FAILURE_THRESHOLD", 5)),
		},

		NATSURL:           strings.TrimSpace(os.Getenv("NATS_URL")),
		ReconcileInterval: envDuration("RECONCILE_INTERVAL", 15*time.Minute),

		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),
	}
	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = ":9090"
	}
	if cfg.Production && cfg.DatabaseURL == "" {
		return EngagementConfig{}, errors.New("DATABASE_URL is required in production")
	}
	return cfg, nil
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}

// envDuration accepts Go durations ("30s") and bare seconds ("30").
// "0" is a valid value and disables whatever the setting drives.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
