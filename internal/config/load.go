package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n), nil
	}
	return time.ParseDuration(s)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		dd, err := parseDuration(u)
		if err != nil {
			return err
		}
		d.Duration = dd
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a JSON string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar, line %d", node.Line)
	}
	dd, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = dd
	return nil
}

// UnmarshalText lets env overrides use the same "5s" form.
func (d *Duration) UnmarshalText(b []byte) error {
	dd, err := parseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = dd
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func defaultConfig() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: D(5 * time.Second),
			IdleTimeout:       D(2 * time.Minute),
			ShutdownTimeout:   D(15 * time.Second),
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: D(30 * time.Minute),
		},
		Redis: RedisConfig{
			Mode:         "single",
			Addrs:        []string{"localhost:6379"},
			DialTimeout:  D(2 * time.Second),
			ReadTimeout:  D(500 * time.Millisecond),
			WriteTimeout: D(500 * time.Millisecond),
			KeyPrefix:    "ac:",
		},
		Cache: CacheConfig{
			Enabled:   true,
			TTL:       D(time.Hour),
			OpTimeout: D(500 * time.Millisecond),
		},
		Inflight: InflightConfig{
			Lease:        D(60 * time.Second),
			PollInterval: D(100 * time.Millisecond),
		},
		Completion: CompletionConfig{
			HistoryLimit:     20,
			RequestBudget:    D(60 * time.Second),
			ComputeTimeout:   D(45 * time.Second),
			MaxClaimAttempts: 3,
			Model:            "mock-1",
		},
		Provider: ProviderConfig{
			Type: "mock",
		},
		Otel: OtelConfig{
			ServiceName: "answercache",
		},
	}
}

// Load resolves configuration: defaults, then the config file (AC_CONFIG_PATH or
// ./config/config.{yaml,yml,json}), then environment overrides, then validation.
func Load() (*Config, error) {
	cfg := defaultConfig()

	cfgPath := strings.TrimSpace(os.Getenv("AC_CONFIG_PATH"))
	if cfgPath == "" {
		cfgPath = discoverConfigFile()
	}
	if cfgPath != "" {
		if err := loadFile(cfgPath, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func discoverConfigFile() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		p := filepath.Join(wd, "config", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadFile overlays the file onto cfg; keys missing from the file keep their defaults.
func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	case ".json":
		return json.Unmarshal(b, cfg)
	default:
		return fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.Env) == "" {
		c.Env = "development"
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = ":8080"
	}
	origins := make([]string, 0, len(c.HTTP.CORSOrigins))
	for _, o := range c.HTTP.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.HTTP.CORSOrigins = origins

	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid database.driver=%q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}

	c.Redis.Mode = strings.ToLower(strings.TrimSpace(c.Redis.Mode))
	switch c.Redis.Mode {
	case "", "single":
		c.Redis.Mode = "single"
	case "cluster", "memory":
	default:
		return fmt.Errorf("invalid redis.mode=%q", c.Redis.Mode)
	}
	addrs := c.Redis.Addrs[:0]
	for _, a := range c.Redis.Addrs {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	c.Redis.Addrs = addrs
	if c.Redis.Mode != "memory" && len(c.Redis.Addrs) == 0 {
		return fmt.Errorf("redis.addrs is required for mode %q", c.Redis.Mode)
	}

	if c.Cache.TTL.Duration <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if c.Cache.OpTimeout.Duration <= 0 {
		c.Cache.OpTimeout = D(500 * time.Millisecond)
	}

	if c.Inflight.Lease.Duration <= 0 {
		return errors.New("inflight.lease must be positive")
	}
	if c.Inflight.WaitTimeout.Duration <= 0 {
		c.Inflight.WaitTimeout = c.Inflight.Lease
	}
	if c.Inflight.PollInterval.Duration <= 0 {
		c.Inflight.PollInterval = D(100 * time.Millisecond)
	}

	if c.Completion.HistoryLimit <= 0 {
		c.Completion.HistoryLimit = 20
	}
	if c.Completion.MaxClaimAttempts <= 0 {
		c.Completion.MaxClaimAttempts = 3
	}
	if c.Completion.RequestBudget.Duration <= 0 {
		return errors.New("completion.request_budget must be positive")
	}
	if c.Completion.ComputeTimeout.Duration <= 0 {
		c.Completion.ComputeTimeout = c.Completion.RequestBudget
	}
	// The claimant renews its ticket, but a computation must still fit in one
	// lease so a stalled renewer cannot hand the fingerprint to a second worker.
	if c.Completion.ComputeTimeout.Duration >= c.Inflight.Lease.Duration {
		return fmt.Errorf("completion.compute_timeout (%s) must be shorter than inflight.lease (%s)",
			c.Completion.ComputeTimeout.Duration, c.Inflight.Lease.Duration)
	}
	if strings.TrimSpace(c.Completion.Model) == "" {
		return errors.New("completion.model is required")
	}

	c.Provider.Type = strings.ToLower(strings.TrimSpace(c.Provider.Type))
	switch c.Provider.Type {
	case "mock":
	case "oai_http", "openai_http":
		c.Provider.Type = "oai_http"
		c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.BaseURL), "/")
		if c.Provider.BaseURL == "" {
			return errors.New("provider.base_url is required for oai_http")
		}
		if strings.TrimSpace(c.Provider.ChatCompletionsPath) == "" {
			c.Provider.ChatCompletionsPath = "/v1/chat/completions"
		}
		if c.Provider.Timeout.Duration <= 0 {
			c.Provider.Timeout = c.Completion.ComputeTimeout
		}
	default:
		return fmt.Errorf("unsupported provider.type %q", c.Provider.Type)
	}
	return nil
}
