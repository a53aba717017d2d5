// Package config loads service configuration from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/services/source"
)

// Config is the full runtime configuration of the oracle process.
type Config struct {
	HTTPAddr string

	// DatabaseURL selects the Postgres store. Empty runs on in-memory
	// storage, which is fine for development and tests only.
	DatabaseURL string

	// RedisAddr selects the shared Redis cache. Empty uses the in-process
	// cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel  string
	LogFormat string

	CacheTTL   time.Duration
	MinSources int

	SchedulerTick    time.Duration
	SchedulerBatch   int
	SchedulerWorkers int
	NotifierWorkers  int

	// Providers holds the upstream price source definitions, either inline
	// via ORACLE_PROVIDERS (JSON array) or from the file named by
	// ORACLE_PROVIDERS_FILE.
	Providers []source.HTTPConfig

	ShutdownTimeout time.Duration
}

// FromEnv reads configuration from the environment, applying defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:         envString("ORACLE_HTTP_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		LogLevel:         envString("LOG_LEVEL", "info"),
		LogFormat:        envString("LOG_FORMAT", "json"),
		ShutdownTimeout:  30 * time.Second,
		SchedulerBatch:   32,
		SchedulerWorkers: 8,
		NotifierWorkers:  4,
		SchedulerTick:    time.Second,
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = envDuration("ORACLE_CACHE_TTL", 0); err != nil {
		return Config{}, err
	}
	if cfg.MinSources, err = envInt("ORACLE_MIN_SOURCES", 0); err != nil {
		return Config{}, err
	}
	if cfg.SchedulerTick, err = envDuration("ORACLE_SCHEDULER_TICK", cfg.SchedulerTick); err != nil {
		return Config{}, err
	}
	if cfg.SchedulerBatch, err = envInt("ORACLE_SCHEDULER_BATCH", cfg.SchedulerBatch); err != nil {
		return Config{}, err
	}
	if cfg.SchedulerWorkers, err = envInt("ORACLE_SCHEDULER_WORKERS", cfg.SchedulerWorkers); err != nil {
		return Config{}, err
	}
	if cfg.NotifierWorkers, err = envInt("ORACLE_NOTIFIER_WORKERS", cfg.NotifierWorkers); err != nil {
		return Config{}, err
	}

	if cfg.Providers, err = loadProviders(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadProviders() ([]source.HTTPConfig, error) {
	raw := os.Getenv("ORACLE_PROVIDERS")
	if file := os.Getenv("ORACLE_PROVIDERS_FILE"); raw == "" && file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read providers file: %w", err)
		}
		raw = string(data)
	}
	if raw == "" {
		return nil, nil
	}
	var providers []source.HTTPConfig
	if err := json.Unmarshal([]byte(raw), &providers); err != nil {
		return nil, fmt.Errorf("parse providers: %w", err)
	}
	return providers, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
