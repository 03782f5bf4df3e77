package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "orchd.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ORCHD_PORT")
	setString(&cfg.Server.CORSOrigin, "ORCHD_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ORCHD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ORCHD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ORCHD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ORCHD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ORCHD_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "ORCHD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ORCHD_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ORCHD_LOG_ASYNC")
	setInt(&cfg.Logging.Buffer, "ORCHD_LOG_BUFFER")
	setInt(&cfg.Breaker.MaxFailures, "ORCHD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ORCHD_BREAKER_TIMEOUT")
	setInt(&cfg.Executions.MaxConcurrent, "ORCHD_MAX_CONCURRENT_EXECUTIONS")
	setDuration(&cfg.Approvals.Timeout, "ORCHD_APPROVAL_TIMEOUT")
	setInt64(&cfg.Dispatcher.MaxSpawned, "ORCHD_DISPATCHER_MAX_SPAWNED")
	setInt(&cfg.Graph.TreeMaxDepth, "ORCHD_GRAPH_TREE_MAX_DEPTH")
	setInt64(&cfg.Cache.MaxSizeMB, "ORCHD_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TreeTTL, "ORCHD_CACHE_TREE_TTL")
	setBool(&cfg.Telemetry.Enabled, "ORCHD_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "ORCHD_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Logging.Async && cfg.Logging.Buffer < 1 {
		return errors.New("logging.buffer must be >= 1 when logging.async is set")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Executions.MaxConcurrent < 1 {
		return errors.New("executions.max_concurrent must be >= 1")
	}
	if cfg.Approvals.Timeout <= 0 {
		return errors.New("approvals.timeout must be positive")
	}
	if cfg.Dispatcher.MaxSpawned < 1 {
		return errors.New("dispatcher.max_spawned must be >= 1")
	}
	if cfg.Graph.TreeMaxDepth < 1 {
		return errors.New("graph.tree_max_depth must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
