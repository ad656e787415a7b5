// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/text-audit/data-collector/internal/collector"
)

// Config captures all collector configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig           `mapstructure:"logging"`
	Queue      QueueConfig             `mapstructure:"queue"`
	Sink       SinkConfig              `mapstructure:"sink"`
	Backoff    BackoffConfig           `mapstructure:"backoff"`
	UserAgents []string                `mapstructure:"user_agents"`
	Sources    map[string]SourceLimits `mapstructure:"sources"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// QueueConfig sizes the bounded output queue between engine and sink.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// SinkConfig sets where drained records land.
type SinkConfig struct {
	Path string `mapstructure:"path"`
}

// BackoffConfig controls the hostile-response cool-down intervals.
type BackoffConfig struct {
	BaseSeconds      int `mapstructure:"base_seconds"`
	EscalatedSeconds int `mapstructure:"escalated_seconds"`
}

// SourceLimits overrides the built-in per-source-type defaults.
type SourceLimits struct {
	MaxCount       int     `mapstructure:"max_count"`
	Concurrency    int     `mapstructure:"concurrency"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("sink.path", "collected.jsonl")
	v.SetDefault("backoff.base_seconds", 10)
	v.SetDefault("backoff.escalated_seconds", 30)
	v.SetDefault("sources.web.max_count", 100)
	v.SetDefault("sources.web.concurrency", 4)
	v.SetDefault("sources.web.rate_limit", 10)
	v.SetDefault("sources.web.timeout_seconds", 15)
	v.SetDefault("sources.zhihu.max_count", 1000)
	v.SetDefault("sources.zhihu.concurrency", 2)
	v.SetDefault("sources.zhihu.rate_limit", 5)
	v.SetDefault("sources.zhihu.timeout_seconds", 20)
	v.SetDefault("sources.api.max_count", 1000)
	v.SetDefault("sources.api.concurrency", 2)
	v.SetDefault("sources.api.rate_limit", 10)
	v.SetDefault("sources.api.timeout_seconds", 15)
	v.SetDefault("sources.file.max_count", 10000)
	v.SetDefault("sources.file.concurrency", 1)
	v.SetDefault("sources.file.rate_limit", 0)
	v.SetDefault("sources.file.timeout_seconds", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if c.Sink.Path == "" {
		return fmt.Errorf("sink.path must be set")
	}
	if c.Backoff.BaseSeconds <= 0 {
		return fmt.Errorf("backoff.base_seconds must be > 0")
	}
	if c.Backoff.EscalatedSeconds < c.Backoff.BaseSeconds {
		return fmt.Errorf("backoff.escalated_seconds must be >= backoff.base_seconds")
	}
	for name, limits := range c.Sources {
		switch name {
		case "web", "zhihu", "api", "file":
		default:
			return fmt.Errorf("sources.%s: unknown source type", name)
		}
		if limits.MaxCount < 0 {
			return fmt.Errorf("sources.%s.max_count must be >= 0", name)
		}
		if limits.Concurrency < 0 {
			return fmt.Errorf("sources.%s.concurrency must be >= 0", name)
		}
		if limits.RateLimit < 0 {
			return fmt.Errorf("sources.%s.rate_limit must be >= 0", name)
		}
	}
	return nil
}

// Defaults converts the per-source blocks into engine default overrides.
func (c Config) Defaults() map[collector.SourceType]collector.Defaults {
	out := make(map[collector.SourceType]collector.Defaults, len(c.Sources))
	for name, limits := range c.Sources {
		out[collector.SourceType(name)] = collector.Defaults{
			MaxCount:    limits.MaxCount,
			Concurrency: limits.Concurrency,
			RateLimit:   limits.RateLimit,
			Timeout:     time.Duration(limits.TimeoutSeconds) * time.Second,
		}
	}
	return out
}

// BackoffIntervals converts the backoff block into durations.
func (c Config) BackoffIntervals() (base, escalated time.Duration) {
	return time.Duration(c.Backoff.BaseSeconds) * time.Second,
		time.Duration(c.Backoff.EscalatedSeconds) * time.Second
}
