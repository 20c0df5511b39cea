package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

type Config struct {
	Input      InputConfig      `json:"input"`
	Verifier   VerifierConfig   `json:"verifier"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Output     OutputConfig     `json:"output"`
	Status     StatusConfig     `json:"status"`
	Metrics    MetricsConfig    `json:"metrics"`
	Logging    LoggingConfig    `json:"logging"`
}

type InputConfig struct {
	Path string `json:"path"` // file or directory of candidate lists
}

type VerifierConfig struct {
	TargetURL             string `json:"target_url"`
	TimeoutMs             int    `json:"timeout_ms"`
	TimeoutPolicy         string `json:"timeout_policy"` // "strict" or "lenient"
	BodyMatchPattern      string `json:"body_match_pattern"`
	Verbose               bool   `json:"verbose"`
	EnableFastFilter      bool   `json:"enable_fast_filter"`
	FastFilterTimeoutMs   int    `json:"fast_filter_timeout_ms"`
	FastFilterConcurrency int    `json:"fast_filter_concurrency"`
	MaxBodySampleBytes    int    `json:"max_body_sample_bytes"`
}

type DispatcherConfig struct {
	Concurrency         int `json:"concurrency"`
	LaunchRatePerSecond int `json:"launch_rate_per_second"` // 0 disables pacing
}

type OutputConfig struct {
	Type string `json:"type"` // "file", "sqlite", "redis"
	Path string `json:"path"` // file path ({date} expands), sqlite path, or redis addr
}

type StatusConfig struct {
	Enabled            bool   `json:"enabled"`
	Addr               string `json:"addr"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	EnableIPRateLimit  bool   `json:"enable_ip_rate_limit"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	Namespace string `json:"namespace"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load reads configuration from JSON file
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Verifier.TargetURL == "" {
		c.Verifier.TargetURL = "http://www.google.com/generate_204"
	}
	if c.Verifier.TimeoutMs == 0 {
		c.Verifier.TimeoutMs = 8000
	}
	if c.Verifier.TimeoutPolicy == "" {
		c.Verifier.TimeoutPolicy = "strict"
	}
	if c.Verifier.FastFilterTimeoutMs == 0 {
		c.Verifier.FastFilterTimeoutMs = 1500
	}
	if c.Verifier.FastFilterConcurrency == 0 {
		c.Verifier.FastFilterConcurrency = 500
	}
	if c.Verifier.MaxBodySampleBytes == 0 {
		c.Verifier.MaxBodySampleBytes = 4096
	}
	if c.Dispatcher.Concurrency == 0 {
		c.Dispatcher.Concurrency = 50
	}
	if c.Output.Type == "" {
		c.Output.Type = "file"
	}
	if c.Output.Path == "" {
		c.Output.Path = "verified-{date}.txt"
	}
	if c.Status.Addr == "" {
		c.Status.Addr = ":8083"
	}
	if c.Status.RateLimitPerMinute == 0 {
		c.Status.RateLimitPerMinute = 1200
	}
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "proxyverify"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Dispatcher.Concurrency < 1 || c.Dispatcher.Concurrency > 100000 {
		return fmt.Errorf("concurrency must be between 1 and 100000")
	}
	if c.Verifier.TimeoutMs < 100 || c.Verifier.TimeoutMs > 300000 {
		return fmt.Errorf("timeout_ms must be between 100 and 300000")
	}
	if c.Verifier.TimeoutPolicy != "strict" && c.Verifier.TimeoutPolicy != "lenient" {
		return fmt.Errorf("timeout_policy must be 'strict' or 'lenient'")
	}
	if c.Verifier.BodyMatchPattern != "" {
		if _, err := regexp.Compile(c.Verifier.BodyMatchPattern); err != nil {
			return fmt.Errorf("body_match_pattern: %w", err)
		}
	}
	if c.Output.Type != "file" && c.Output.Type != "sqlite" && c.Output.Type != "redis" {
		return fmt.Errorf("output type must be 'file', 'sqlite', or 'redis'")
	}
	if c.Dispatcher.LaunchRatePerSecond < 0 {
		return fmt.Errorf("launch_rate_per_second must not be negative")
	}
	return nil
}
