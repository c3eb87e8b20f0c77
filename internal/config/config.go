package config

import "time"

type Duration struct {
	Duration time.Duration
}

func D(d time.Duration) Duration { return Duration{Duration: d} }

type HTTPConfig struct {
	Addr              string   `json:"addr" yaml:"addr" env:"AC_HTTP_ADDR"`
	ReadHeaderTimeout Duration `json:"read_header_timeout" yaml:"read_header_timeout"`
	IdleTimeout       Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout   Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"AC_HTTP_SHUTDOWN_TIMEOUT"`
	// CORSOrigins empty means the local dev origins.
	CORSOrigins       []string `json:"cors_origins" yaml:"cors_origins" env:"AC_HTTP_CORS_ORIGINS" envSeparator:","`
}

type DatabaseConfig struct {
	// Driver is "postgres" (production) or "sqlite" (local development).
	Driver          string   `json:"driver" yaml:"driver" env:"AC_DATABASE_DRIVER"`
	DSN             string   `json:"dsn" yaml:"dsn" env:"AC_DATABASE_DSN"`
	MaxOpenConns    int      `json:"max_open_conns" yaml:"max_open_conns" env:"AC_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	// AutoMigrate creates the read models on start. Intended for dev/test only.
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate" env:"AC_DATABASE_AUTO_MIGRATE"`
}

type RedisConfig struct {
	// Mode is "single", "cluster", or "memory" (in-process, single replica only).
	Mode         string   `json:"mode" yaml:"mode" env:"AC_REDIS_MODE"`
	Addrs        []string `json:"addrs" yaml:"addrs" env:"AC_REDIS_ADDRS" envSeparator:","`
	Username     string   `json:"username" yaml:"username" env:"AC_REDIS_USERNAME"`
	Password     string   `json:"password" yaml:"password" env:"AC_REDIS_PASSWORD"`
	DB           int      `json:"db" yaml:"db" env:"AC_REDIS_DB"`
	DialTimeout  Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
	KeyPrefix    string   `json:"key_prefix" yaml:"key_prefix" env:"AC_REDIS_KEY_PREFIX"`
}

type CacheConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled" env:"AC_CACHE_ENABLED"`
	TTL       Duration `json:"ttl" yaml:"ttl" env:"AC_CACHE_TTL"`
	OpTimeout Duration `json:"op_timeout" yaml:"op_timeout" env:"AC_CACHE_OP_TIMEOUT"`
}

type InflightConfig struct {
	Lease        Duration `json:"lease" yaml:"lease" env:"AC_INFLIGHT_LEASE"`
	WaitTimeout  Duration `json:"wait_timeout" yaml:"wait_timeout" env:"AC_INFLIGHT_WAIT_TIMEOUT"`
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval" env:"AC_INFLIGHT_POLL_INTERVAL"`
}

type CompletionConfig struct {
	HistoryLimit     int      `json:"history_limit" yaml:"history_limit" env:"AC_COMPLETION_HISTORY_LIMIT"`
	RequestBudget    Duration `json:"request_budget" yaml:"request_budget" env:"AC_COMPLETION_REQUEST_BUDGET"`
	ComputeTimeout   Duration `json:"compute_timeout" yaml:"compute_timeout" env:"AC_COMPLETION_COMPUTE_TIMEOUT"`
	MaxClaimAttempts int      `json:"max_claim_attempts" yaml:"max_claim_attempts" env:"AC_COMPLETION_MAX_CLAIM_ATTEMPTS"`
	Model            string   `json:"model" yaml:"model" env:"AC_COMPLETION_MODEL"`
}

type ProviderConfig struct {
	// Type is "mock" or "oai_http" (any OpenAI-compatible chat completions server).
	Type                string   `json:"type" yaml:"type" env:"AC_PROVIDER_TYPE"`
	BaseURL             string   `json:"base_url,omitempty" yaml:"base_url" env:"AC_PROVIDER_BASE_URL"`
	APIKey              string   `json:"api_key,omitempty" yaml:"api_key" env:"AC_PROVIDER_API_KEY"`
	ChatCompletionsPath string   `json:"chat_completions_path,omitempty" yaml:"chat_completions_path"`
	Timeout             Duration `json:"timeout,omitempty" yaml:"timeout" env:"AC_PROVIDER_TIMEOUT"`
}

type OtelConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"OTEL_ENABLED"`
	ServiceName string `json:"service_name" yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	Version     string `json:"version" yaml:"version" env:"AC_VERSION"`
}

type Config struct {
	Env        string           `json:"env" yaml:"env" env:"LOG_MODE"`
	HTTP       HTTPConfig       `json:"http" yaml:"http"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Inflight   InflightConfig   `json:"inflight" yaml:"inflight"`
	Completion CompletionConfig `json:"completion" yaml:"completion"`
	Provider   ProviderConfig   `json:"provider" yaml:"provider"`
	Otel       OtelConfig       `json:"otel" yaml:"otel"`
}
