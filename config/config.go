package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the service configuration: an optional YAML file, struct
// defaults and environment overrides, in that order of precedence (env wins).
type Config struct {
	// Storage
	SQLitePath     string `yaml:"sqlite_path" default:"data/indicators.db" validate:"required"`
	IndicatorsPath string `yaml:"indicators_path" default:"config/indicators.json" validate:"required"`
	Redis          Redis  `yaml:"redis"`

	// Batch
	Workers int    `yaml:"workers" validate:"gte=0"` // 0 = NumCPU/2
	MinBars int    `yaml:"min_bars" default:"10" validate:"gte=1"`
	History bool   `yaml:"history"`
	Timeout string `yaml:"security_timeout" default:"2m"`

	// Service
	LogLevel    string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	MetricsAddr string `yaml:"metrics_addr" default:":9090"`
	Schedule    string `yaml:"schedule" default:"0 30 18 * * 1-5"` // cron with seconds
}

// Redis configures the state cache and trigger stream. An empty Addr
// disables Redis entirely.
type Redis struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db" validate:"gte=0"`
	StateTTL  time.Duration `yaml:"state_ttl" default:"72h"`
	Stream    string        `yaml:"stream" default:"ind:runs"`
	Group     string        `yaml:"group" default:"indengine"`
	Consumer  string        `yaml:"consumer"`
	ClaimIdle time.Duration `yaml:"claim_idle" default:"10m"` // before a peer's unacked request is taken over
}

var validate = validator.New()

// Load reads the YAML file at path (skipped when path is empty), fills
// defaults, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config read: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config invalid: %w", err)
	}
	if _, err := cfg.SecurityTimeout(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.IndicatorsPath = getEnv("INDICATORS_PATH", c.IndicatorsPath)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.Schedule = getEnv("SCHEDULE", c.Schedule)

	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config WORKERS=%q: %w", v, err)
		}
		c.Workers = n
	}
	return nil
}

// EffectiveWorkers resolves Workers, defaulting to half the CPUs (at least 1).
func (c *Config) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

// SecurityTimeout parses the per-security timeout. Zero disables it.
func (c *Config) SecurityTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("config security_timeout: %w", err)
	}
	if d < 0 {
		return 0, errors.New("config security_timeout: negative duration")
	}
	return d, nil
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
