package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the screening service reads from the environment.
type Config struct {
	ListenAddr string
	LogLevel   string

	InferenceURL            string
	InferenceTimeout        time.Duration
	InferenceGRPCHealthAddr string

	RedisAddr   string
	DatabaseDSN string

	JWTSecret   string
	JWTAudience string

	ProgressTick         time.Duration
	ProgressMaxIncrement float64
	HydrationDelay       time.Duration
	ExportScale          float64
	MaxUploadBytes       int64
	NavigationTTL        time.Duration
	SessionIdleTTL       time.Duration
}

// Lookup reads a single variable; os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, applying defaults for unset keys.
func FromLookup(lookup Lookup) (*Config, error) {
	e := env{lookup: lookup}
	cfg := &Config{
		ListenAddr:              e.str("LISTEN_ADDR", ":8080"),
		LogLevel:                e.str("LOG_LEVEL", "info"),
		InferenceURL:            e.str("INFERENCE_URL", "http://localhost:8000/predict"),
		InferenceTimeout:        e.duration("INFERENCE_TIMEOUT", 60*time.Second),
		InferenceGRPCHealthAddr: e.str("INFERENCE_GRPC_HEALTH_ADDR", ""),
		RedisAddr:               e.str("REDIS_ADDR", "redis:6379"),
		DatabaseDSN:             e.str("DATABASE_DSN", ""),
		JWTSecret:               e.str("JWT_SECRET", ""),
		JWTAudience:             e.str("JWT_AUDIENCE", ""),
		ProgressTick:            e.duration("PROGRESS_TICK", 200*time.Millisecond),
		ProgressMaxIncrement:    e.float("PROGRESS_MAX_INCREMENT", 15),
		HydrationDelay:          e.duration("HYDRATION_DELAY", 2500*time.Millisecond),
		ExportScale:             e.float("EXPORT_SCALE", 3),
		MaxUploadBytes:          e.int64("MAX_UPLOAD_BYTES", 10<<20),
		NavigationTTL:           e.duration("NAVIGATION_TTL", 10*time.Minute),
		SessionIdleTTL:          e.duration("SESSION_IDLE_TTL", 30*time.Minute),
	}
	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.InferenceURL == "":
		return fmt.Errorf("INFERENCE_URL must not be empty")
	case c.InferenceTimeout <= 0:
		return fmt.Errorf("INFERENCE_TIMEOUT must be positive")
	case c.ProgressTick <= 0:
		return fmt.Errorf("PROGRESS_TICK must be positive")
	case c.ProgressMaxIncrement <= 0:
		return fmt.Errorf("PROGRESS_MAX_INCREMENT must be positive")
	case c.HydrationDelay < 0:
		return fmt.Errorf("HYDRATION_DELAY must not be negative")
	case c.ExportScale <= 0:
		return fmt.Errorf("EXPORT_SCALE must be positive")
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	case c.NavigationTTL <= 0:
		return fmt.Errorf("NAVIGATION_TTL must be positive")
	case c.SessionIdleTTL <= 0:
		return fmt.Errorf("SESSION_IDLE_TTL must be positive")
	}
	return nil
}

// env records the first parse failure so FromLookup can report it once.
type env struct {
	lookup Lookup
	err    error
}

func (e *env) str(key, fallback string) string {
	if value, ok := e.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, raw, err)
		return fallback
	}
	return d
}

func (e *env) float(key string, fallback float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, raw, err)
		return fallback
	}
	return f
}

func (e *env) int64(key string, fallback int64) int64 {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.fail(key, raw, err)
		return fallback
	}
	return n
}

func (e *env) fail(key, raw string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
}
