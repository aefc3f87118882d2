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
const DefaultConfigFile = "agentforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("AGENTFORGE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
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
	setString(&cfg.Server.Port, "AGENTFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTFORGE_CORS_ORIGIN")
	setString(&cfg.Server.MCPAPIKey, "AGENTFORGE_MCP_API_KEY")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.StateBucket, "AGENTFORGE_STATE_BUCKET")
	setString(&cfg.LLM.URL, "LITELLM_URL")
	setString(&cfg.LLM.APIKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LLM.DirectURL, "AGENTFORGE_LLM_DIRECT_URL")
	setString(&cfg.LLM.DirectAPIKey, "OPENROUTER_API_KEY")
	setDuration(&cfg.LLM.Timeout, "AGENTFORGE_LLM_TIMEOUT")
	setString(&cfg.Logging.Level, "AGENTFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTFORGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "AGENTFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTFORGE_BREAKER_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "AGENTFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "AGENTFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "AGENTFORGE_CACHE_L2_TTL")
	setDuration(&cfg.Cache.StaleAfter, "AGENTFORGE_CACHE_STALE_AFTER")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "AGENTFORGE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "AGENTFORGE_IDEMPOTENCY_TTL")

	// Agent
	setString(&cfg.Agent.DefaultModel, "AGENTFORGE_DEFAULT_MODEL")
	setInt(&cfg.Agent.DefaultMaxSteps, "AGENTFORGE_DEFAULT_MAX_STEPS")
	setInt(&cfg.Agent.MaxSteps, "AGENTFORGE_MAX_STEPS")
	setInt(&cfg.Agent.DefaultMaxTokens, "AGENTFORGE_DEFAULT_MAX_TOKENS")
	setInt(&cfg.Agent.MaxTokens, "AGENTFORGE_MAX_TOKENS")
	setInt(&cfg.Agent.MaxThinkingTokens, "AGENTFORGE_MAX_THINKING_TOKENS")
	setInt(&cfg.Agent.MinThinkingTokens, "AGENTFORGE_MIN_THINKING_TOKENS")
	setInt(&cfg.Agent.DefaultLastMessages, "AGENTFORGE_DEFAULT_LAST_MESSAGES")
	setInt(&cfg.Agent.MaxHandoffDepth, "AGENTFORGE_MAX_HANDOFF_DEPTH")

	// Wallet
	setInt64(&cfg.Wallet.SignupRewardMicro, "AGENTFORGE_SIGNUP_REWARD_MICRO")

	// Trigger / tools
	setString(&cfg.Trigger.PublicURL, "AGENTFORGE_PUBLIC_URL")
	setFloat64(&cfg.Trigger.WebhookRate, "AGENTFORGE_WEBHOOK_RATE")
	setInt(&cfg.Trigger.WebhookBurst, "AGENTFORGE_WEBHOOK_BURST")
	setDuration(&cfg.Tools.CallTimeout, "AGENTFORGE_TOOL_CALL_TIMEOUT")
	setDuration(&cfg.Tools.ListTimeout, "AGENTFORGE_TOOL_LIST_TIMEOUT")
	setString(&cfg.Tools.DecoURL, "AGENTFORGE_DECO_URL")
	setString(&cfg.Tools.DecoToken, "AGENTFORGE_DECO_TOKEN")

	// OTEL
	setBool(&cfg.OTEL.Enabled, "AGENTFORGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "AGENTFORGE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "AGENTFORGE_OTEL_SAMPLE_RATE")

	// Billing
	setInt(&cfg.Billing.Workers, "AGENTFORGE_BILLING_WORKERS")
	setInt(&cfg.Billing.QueueSize, "AGENTFORGE_BILLING_QUEUE_SIZE")
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
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Agent.MaxSteps < 1 || cfg.Agent.MaxTokens < 1 {
		return errors.New("agent.max_steps and agent.max_tokens must be >= 1")
	}
	if cfg.Agent.DefaultMaxSteps > cfg.Agent.MaxSteps {
		return fmt.Errorf("agent.default_max_steps (%d) exceeds agent.max_steps (%d)", cfg.Agent.DefaultMaxSteps, cfg.Agent.MaxSteps)
	}
	if cfg.Agent.DefaultMaxTokens > cfg.Agent.MaxTokens {
		return fmt.Errorf("agent.default_max_tokens (%d) exceeds agent.max_tokens (%d)", cfg.Agent.DefaultMaxTokens, cfg.Agent.MaxTokens)
	}
	if cfg.Billing.Workers < 1 {
		return errors.New("billing.workers must be >= 1")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
