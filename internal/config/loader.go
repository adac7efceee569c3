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
const DefaultConfigFile = "sprintpilot.yaml"

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
	setString(&cfg.Server.Port, "SPRINTPILOT_PORT")
	setString(&cfg.Server.CORSOrigin, "SPRINTPILOT_CORS_ORIGIN")
	setString(&cfg.Storage.Backend, "SPRINTPILOT_STORAGE_BACKEND")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SPRINTPILOT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SPRINTPILOT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SPRINTPILOT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SPRINTPILOT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SPRINTPILOT_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Bucket, "SPRINTPILOT_NATS_BUCKET")
	setInt(&cfg.Queue.MaxPending, "SPRINTPILOT_QUEUE_MAX_PENDING")
	setInt(&cfg.Breaker.SameIssueThreshold, "SPRINTPILOT_BREAKER_SAME_ISSUE")
	setInt(&cfg.Breaker.NoProgressCycles, "SPRINTPILOT_BREAKER_NO_PROGRESS")
	setDuration(&cfg.Breaker.WallClock, "SPRINTPILOT_BREAKER_WALL_CLOCK")
	setInt(&cfg.Breaker.MaxCycles, "SPRINTPILOT_BREAKER_MAX_CYCLES")
	setString(&cfg.Sandbox.Runner, "SPRINTPILOT_SANDBOX_RUNNER")
	setString(&cfg.Sandbox.Command, "SPRINTPILOT_SANDBOX_COMMAND")
	setString(&cfg.Sandbox.WorkDir, "SPRINTPILOT_SANDBOX_WORKDIR")
	setInt(&cfg.Sandbox.StartRetries, "SPRINTPILOT_SANDBOX_START_RETRIES")
	setDuration(&cfg.Sandbox.StopTimeout, "SPRINTPILOT_SANDBOX_STOP_TIMEOUT")
	setString(&cfg.Git.Provider, "SPRINTPILOT_GIT_PROVIDER")
	setString(&cfg.Notify.SlackWebhookURL, "SPRINTPILOT_SLACK_WEBHOOK")
	setString(&cfg.Notify.DiscordWebhookURL, "SPRINTPILOT_DISCORD_WEBHOOK")
	setString(&cfg.Notify.SMTP.Host, "SPRINTPILOT_SMTP_HOST")
	setInt(&cfg.Notify.SMTP.Port, "SPRINTPILOT_SMTP_PORT")
	setString(&cfg.Notify.SMTP.From, "SPRINTPILOT_SMTP_FROM")
	setString(&cfg.Notify.SMTP.To, "SPRINTPILOT_SMTP_TO")
	setString(&cfg.Notify.SMTP.Password, "SPRINTPILOT_SMTP_PASSWORD")
	setInt(&cfg.Retry.MaxAttempts, "SPRINTPILOT_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseDelay, "SPRINTPILOT_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "SPRINTPILOT_RETRY_MAX_DELAY")
	setInt64(&cfg.Cache.L1MaxSizeMB, "SPRINTPILOT_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "SPRINTPILOT_CACHE_L1_TTL")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Logging.Level, "SPRINTPILOT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SPRINTPILOT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SPRINTPILOT_LOG_ASYNC")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Storage.Backend {
	case "nats", "postgres", "memory":
	default:
		return fmt.Errorf("storage.backend must be nats, postgres or memory, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "postgres" && cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required for the postgres backend")
	}
	if cfg.Storage.Backend == "nats" && cfg.NATS.URL == "" {
		return errors.New("nats.url is required for the nats backend")
	}
	if cfg.Queue.MaxPending < 1 {
		return errors.New("queue.max_pending must be >= 1")
	}
	if cfg.Breaker.SameIssueThreshold < 1 {
		return errors.New("breaker.same_issue_threshold must be >= 1")
	}
	if cfg.Breaker.MaxCycles < 1 {
		return errors.New("breaker.max_cycles must be >= 1")
	}
	if cfg.Sandbox.StartRetries < 0 {
		return errors.New("sandbox.start_retries must be >= 0")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
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
