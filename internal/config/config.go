// Package config loads server settings from a config file and environment.
// Precedence: environment variables (ASYNCGATE_ prefix) over config file over
// defaults. Every knob has a default so a bare DATABASE_URL is enough to run.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the full server configuration.
type Settings struct {
	// Environment is one of development, staging, production.
	Environment string `mapstructure:"environment"`

	DatabaseURL string `mapstructure:"database_url"`

	HTTPAddr string `mapstructure:"http_addr"`

	InstanceID string `mapstructure:"instance_id"`

	DefaultLeaseTTLSeconds  int `mapstructure:"default_lease_ttl_seconds"`
	MaxLeaseTTLSeconds      int `mapstructure:"max_lease_ttl_seconds"`
	MaxLeaseRenewals        int `mapstructure:"max_lease_renewals"`
	MaxLeaseLifetimeSeconds int `mapstructure:"max_lease_lifetime_seconds"`

	MaxClaimTasks    int `mapstructure:"max_claim_tasks"`
	DefaultListLimit int `mapstructure:"default_list_limit"`
	MaxListLimit     int `mapstructure:"max_list_limit"`

	DefaultMaxAttempts         int `mapstructure:"default_max_attempts"`
	DefaultRetryBackoffSeconds int `mapstructure:"default_retry_backoff_seconds"`
	MaxRetryBackoffSeconds     int `mapstructure:"max_retry_backoff_seconds"`

	MaxBodyBytes int `mapstructure:"max_receipt_body_bytes"`
	MaxParents   int `mapstructure:"max_receipt_parents"`
	MaxArtifacts int `mapstructure:"max_receipt_artifacts"`

	StrictLocatability bool `mapstructure:"strict_locatability"`

	ObligationCandidateMultiplier int `mapstructure:"obligation_candidate_multiplier"`
	ObligationCandidateHardCap    int `mapstructure:"obligation_candidate_hard_cap"`

	SweepIntervalSeconds   int `mapstructure:"sweep_interval_seconds"`
	SweepBatch             int `mapstructure:"sweep_batch"`
	ExpiryJitterMaxSeconds int `mapstructure:"expiry_jitter_max_seconds"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`

	TracingEnabled        bool    `mapstructure:"tracing_enabled"`
	TracingExporter       string  `mapstructure:"tracing_exporter"`
	TracingOTLPEndpoint   string  `mapstructure:"tracing_otlp_endpoint"`
	TracingZipkinEndpoint string  `mapstructure:"tracing_zipkin_endpoint"`
	TracingSampleRate     float64 `mapstructure:"tracing_sample_rate"`

	// CORSEnabled turns on permissive CORS for browser-based consoles.
	CORSEnabled bool `mapstructure:"cors_enabled"`
}

// Load reads settings from asyncgate-config.{yaml,json} (working directory or
// /etc/asyncgate) and the ASYNCGATE_* environment.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetConfigName("asyncgate-config")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/asyncgate")
	v.SetEnvPrefix("asyncgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	// Registered with empty defaults so Unmarshal sees the keys when they
	// arrive only through the environment.
	v.SetDefault("database_url", "")
	v.SetDefault("instance_id", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("default_lease_ttl_seconds", 120)
	v.SetDefault("max_lease_ttl_seconds", 1800)
	v.SetDefault("max_lease_renewals", 10)
	v.SetDefault("max_lease_lifetime_seconds", 7200)
	v.SetDefault("max_claim_tasks", 10)
	v.SetDefault("default_list_limit", 50)
	v.SetDefault("max_list_limit", 200)
	v.SetDefault("default_max_attempts", 2)
	v.SetDefault("default_retry_backoff_seconds", 15)
	v.SetDefault("max_retry_backoff_seconds", 900)
	v.SetDefault("max_receipt_body_bytes", 64*1024)
	v.SetDefault("max_receipt_parents", 10)
	v.SetDefault("max_receipt_artifacts", 100)
	v.SetDefault("strict_locatability", false)
	v.SetDefault("obligation_candidate_multiplier", 3)
	v.SetDefault("obligation_candidate_hard_cap", 1000)
	v.SetDefault("sweep_interval_seconds", 10)
	v.SetDefault("sweep_batch", 20)
	v.SetDefault("expiry_jitter_max_seconds", 5)
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("prometheus_port", 0)
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_exporter", "otlp")
	v.SetDefault("tracing_otlp_endpoint", "")
	v.SetDefault("tracing_zipkin_endpoint", "")
	v.SetDefault("tracing_sample_rate", 1.0)
	v.SetDefault("cors_enabled", false)
}

// Validate checks cross-field consistency.
func (s *Settings) Validate() error {
	switch s.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("environment %q must be development, staging, or production", s.Environment)
	}
	if s.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (ASYNCGATE_DATABASE_URL)")
	}
	if s.DefaultLeaseTTLSeconds <= 0 || s.MaxLeaseTTLSeconds < s.DefaultLeaseTTLSeconds {
		return fmt.Errorf("lease TTL bounds invalid: default=%d max=%d",
			s.DefaultLeaseTTLSeconds, s.MaxLeaseTTLSeconds)
	}
	if s.MaxLeaseLifetimeSeconds < s.MaxLeaseTTLSeconds {
		return fmt.Errorf("max_lease_lifetime_seconds %d is below max_lease_ttl_seconds %d",
			s.MaxLeaseLifetimeSeconds, s.MaxLeaseTTLSeconds)
	}
	if s.DefaultListLimit <= 0 || s.MaxListLimit < s.DefaultListLimit {
		return fmt.Errorf("list limits invalid: default=%d max=%d", s.DefaultListLimit, s.MaxListLimit)
	}
	if s.ObligationCandidateMultiplier < 1 {
		return fmt.Errorf("obligation_candidate_multiplier must be >= 1")
	}
	return nil
}

// DefaultLeaseTTL returns the default lease TTL as a duration.
func (s *Settings) DefaultLeaseTTL() time.Duration {
	return time.Duration(s.DefaultLeaseTTLSeconds) * time.Second
}

// MaxLeaseTTL returns the lease TTL cap as a duration.
func (s *Settings) MaxLeaseTTL() time.Duration {
	return time.Duration(s.MaxLeaseTTLSeconds) * time.Second
}

// SweepInterval returns the sweeper tick interval.
func (s *Settings) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}
