package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration when
// neither the --config flag nor OPFORGE_CONFIG is set.
const DefaultConfigFile = "configs/opforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(resolvePath(nil))
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

// resolvePath picks the YAML path: --config flag > OPFORGE_CONFIG > default.
func resolvePath(flagPath *string) string {
	if flagPath != nil {
		return *flagPath
	}
	if env := os.Getenv("OPFORGE_CONFIG"); env != "" {
		return env
	}
	return DefaultConfigFile
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
	setString(&cfg.Server.Port, "OPFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "OPFORGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "OPFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "OPFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "OPFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "OPFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "OPFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.JobAPI.URL, "CALDERA_URL")
	setString(&cfg.JobAPI.APIKey, "CALDERA_API_KEY")
	setDuration(&cfg.JobAPI.Timeout, "OPFORGE_JOBAPI_TIMEOUT")
	setString(&cfg.Sequencer.SpecsDir, "OPFORGE_SPECS_DIR")
	setDuration(&cfg.Sequencer.PollInterval, "OPFORGE_POLL_INTERVAL")
	setDuration(&cfg.Sequencer.StepBudget, "OPFORGE_STEP_BUDGET")
	setInt(&cfg.Sequencer.MaxRetries, "OPFORGE_MAX_RETRIES")
	setInt(&cfg.Sequencer.MaxConcurrent, "OPFORGE_MAX_CONCURRENT")
	setDuration(&cfg.Sequencer.SpecCacheTTL, "OPFORGE_SPEC_CACHE_TTL")
	setDuration(&cfg.Sequencer.DrainTimeout, "OPFORGE_DRAIN_TIMEOUT")
	setString(&cfg.Logging.Level, "OPFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "OPFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "OPFORGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "OPFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "OPFORGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "OPFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "OPFORGE_RATE_BURST")
	setInt64(&cfg.Cache.MaxSizeMB, "OPFORGE_CACHE_SIZE_MB")
	setString(&cfg.Idempotency.Bucket, "OPFORGE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "OPFORGE_IDEMPOTENCY_TTL")
	setBool(&cfg.Telemetry.Enabled, "OPFORGE_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "OPFORGE_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "OPFORGE_OTLP_INSECURE")
	setBool(&cfg.Webhook.Enabled, "OPFORGE_WEBHOOK_ENABLED")
	setString(&cfg.Webhook.URL, "OPFORGE_WEBHOOK_URL")
	setString(&cfg.Notify.SlackWebhookURL, "OPFORGE_SLACK_WEBHOOK_URL")
	setString(&cfg.Notify.DiscordWebhookURL, "OPFORGE_DISCORD_WEBHOOK_URL")
	setBool(&cfg.Auth.Enabled, "OPFORGE_AUTH_ENABLED")
	setString(&cfg.Auth.APIKeyHash, "OPFORGE_API_KEY_HASH")
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
	if cfg.JobAPI.URL == "" {
		return errors.New("jobapi.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Sequencer.MaxConcurrent < 1 {
		return errors.New("sequencer.max_concurrent must be >= 1")
	}
	if cfg.Sequencer.PollInterval <= 0 {
		return errors.New("sequencer.poll_interval must be positive")
	}
	if cfg.Auth.Enabled && cfg.Auth.APIKeyHash == "" {
		return errors.New("auth.api_key_hash is required when auth is enabled")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
