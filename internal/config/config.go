// Package config loads layered configuration (file + env) for the
// dcbd runtime (spec C14). Grounded directly on the retrieved koanf
// config loader (internal/core/config/config.go): same
// defaults-then-file-then-env layering, same Validate-after-Unmarshal
// shape, adapted from that project's aggregation-engine settings to
// this one's store/processor/admin-API settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level dcbd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Processor ProcessorConfig `koanf:"processor"`
	NATS      NATSConfig      `koanf:"nats"`
	Redis     RedisConfig     `koanf:"redis"`
}

type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Mode string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	DSN             string `koanf:"dsn"`
	MaxConns        int32  `koanf:"max_conns"`
	AppendTimeoutMS int    `koanf:"append_timeout_ms"`
}

// ProcessorConfig holds the scheduler defaults applied to every
// registered processor (spec §6's fixed configuration vocabulary).
// PerProcessor sparsely overrides a subset of these per processor id.
type ProcessorConfig struct {
	PollIntervalMS    int     `koanf:"poll_interval_ms"`
	BatchSize         int     `koanf:"batch_size"`
	BackoffEnabled    bool    `koanf:"backoff_enabled"`
	BackoffThreshold  int     `koanf:"backoff_threshold"`
	BackoffMultiplier float64 `koanf:"backoff_multiplier"`
	BackoffMaxSeconds int     `koanf:"backoff_max_seconds"`
	MaxErrors         int     `koanf:"max_errors"`

	PerProcessor map[string]ProcessorOverride `koanf:"per_processor"`
}

// ProcessorOverride sparsely overrides ProcessorConfig for one processor
// id; unset fields fall back to the shared defaults above. Enabled is a
// pointer so "absent" (inherit enabled=true) is distinguishable from an
// explicit false.
type ProcessorOverride struct {
	Enabled *bool `koanf:"enabled"`
}

type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject_prefix"`
}

type RedisConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

func (c ProcessorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Enabled reports whether processorID should run, honoring any
// per-processor override.
func (c ProcessorConfig) Enabled(processorID string) bool {
	if override, ok := c.PerProcessor[processorID]; ok && override.Enabled != nil {
		return *override.Enabled
	}
	return true
}

func (c DatabaseConfig) AppendTimeout() time.Duration {
	return time.Duration(c.AppendTimeoutMS) * time.Millisecond
}

// Validate checks the loaded configuration is internally consistent,
// the way the retrieved loader validates before handing config to the
// rest of the application.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("database.max_conns must be > 0")
	}
	if c.Processor.PollIntervalMS <= 0 {
		return fmt.Errorf("processor.poll_interval_ms must be > 0")
	}
	if c.Processor.BatchSize <= 0 {
		return fmt.Errorf("processor.batch_size must be > 0")
	}
	if c.Processor.BackoffEnabled {
		if c.Processor.BackoffThreshold <= 0 {
			return fmt.Errorf("processor.backoff_threshold must be > 0 when backoff is enabled")
		}
		if c.Processor.BackoffMultiplier <= 1 {
			return fmt.Errorf("processor.backoff_multiplier must be > 1 when backoff is enabled")
		}
		if c.Processor.BackoffMaxSeconds <= 0 {
			return fmt.Errorf("processor.backoff_max_seconds must be > 0 when backoff is enabled")
		}
	}
	if c.Processor.MaxErrors <= 0 {
		return fmt.Errorf("processor.max_errors must be > 0")
	}
	if c.NATS.Enabled && strings.TrimSpace(c.NATS.URL) == "" {
		return fmt.Errorf("nats.url is required when nats.enabled is true")
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis.addr is required when redis.enabled is true")
	}
	return nil
}

// Load layers defaults, an optional YAML file, and DCB_-prefixed
// environment variables (env wins), the same three-tier order the
// retrieved loader uses.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"server.port":                    8080,
		"server.host":                    "0.0.0.0",
		"server.mode":                    "release",
		"database.dsn":                   "postgres://localhost:5432/dcb?sslmode=disable",
		"database.max_conns":             10,
		"database.append_timeout_ms":     5000,
		"processor.poll_interval_ms":     250,
		"processor.batch_size":           100,
		"processor.backoff_enabled":      true,
		"processor.backoff_threshold":    3,
		"processor.backoff_multiplier":   2,
		"processor.backoff_max_seconds":  30,
		"processor.max_errors":           10,
		"nats.enabled":                   false,
		"nats.subject_prefix":            "dcb.events",
		"redis.enabled":                  false,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("DCB_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "DCB_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
