/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the orchestrator's YAML configuration file and
// applies defaults for anything the file omits, per spec.md §6's
// configuration surface.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// OrchestratorConfig controls coordinator cadence and feature flags.
type OrchestratorConfig struct {
	HealthCheckInterval  time.Duration `yaml:"health_check_interval"`
	FailureThreshold     int           `yaml:"failure_threshold"`
	RecoveryTimeout      time.Duration `yaml:"recovery_timeout"`
	LoadBalancingEnabled bool          `yaml:"load_balancing_enabled"`
	AutoScalingEnabled   bool          `yaml:"auto_scaling_enabled"`
	MaxComponentsPerType int           `yaml:"max_components_per_type"`
}

// UnmarshalYAML accepts health_check_interval and recovery_timeout as
// duration strings ("15s", "2m") the way the rest of the document reads,
// rather than forcing nanosecond integers.
func (o *OrchestratorConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain struct {
		HealthCheckInterval  string `yaml:"health_check_interval"`
		FailureThreshold     int    `yaml:"failure_threshold"`
		RecoveryTimeout      string `yaml:"recovery_timeout"`
		LoadBalancingEnabled bool   `yaml:"load_balancing_enabled"`
		AutoScalingEnabled   bool   `yaml:"auto_scaling_enabled"`
		MaxComponentsPerType int    `yaml:"max_components_per_type"`
	}
	p := plain{
		HealthCheckInterval:  o.HealthCheckInterval.String(),
		FailureThreshold:     o.FailureThreshold,
		RecoveryTimeout:      o.RecoveryTimeout.String(),
		LoadBalancingEnabled: o.LoadBalancingEnabled,
		AutoScalingEnabled:   o.AutoScalingEnabled,
		MaxComponentsPerType: o.MaxComponentsPerType,
	}
	if err := value.Decode(&p); err != nil {
		return err
	}
	if p.HealthCheckInterval != "" {
		d, err := time.ParseDuration(p.HealthCheckInterval)
		if err != nil {
			return fmt.Errorf("orchestrator.health_check_interval: %w", err)
		}
		o.HealthCheckInterval = d
	}
	if p.RecoveryTimeout != "" {
		d, err := time.ParseDuration(p.RecoveryTimeout)
		if err != nil {
			return fmt.Errorf("orchestrator.recovery_timeout: %w", err)
		}
		o.RecoveryTimeout = d
	}
	o.FailureThreshold = p.FailureThreshold
	o.LoadBalancingEnabled = p.LoadBalancingEnabled
	o.AutoScalingEnabled = p.AutoScalingEnabled
	o.MaxComponentsPerType = p.MaxComponentsPerType
	return nil
}

// RateLimitConfig controls the sliding-window rate limiter (spec.md §4.5).
type RateLimitConfig struct {
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms"`
}

// CacheConfig controls the policy cache TTL.
type CacheConfig struct {
	Enabled  bool `yaml:"enabled"`
	TTLHours int  `yaml:"ttl_hours"`
}

// HTTPConfig controls outbound calls to collaborators.
type HTTPConfig struct {
	UserAgent       string        `yaml:"user_agent"`
	TimeoutMs       int           `yaml:"timeout_ms"`
	MaxRedirects    int           `yaml:"max_redirects"`
	FollowRedirects bool          `yaml:"follow_redirects"`
	Timeout         time.Duration `yaml:"-"`
}

// SecurityConfig controls intake-adjacent safety checks.
type SecurityConfig struct {
	VerifySSL       bool `yaml:"verify_ssl"`
	SanitizeContent bool `yaml:"sanitize_content"`
	DetectMalicious bool `yaml:"detect_malicious"`
	RespectRobots   bool `yaml:"respect_robots_txt"`
}

// BinaryDetectionConfig controls step 3 of the intake pipeline.
type BinaryDetectionConfig struct {
	Enabled          bool    `yaml:"enabled"`
	SampleBytes      int     `yaml:"sample_bytes"`
	NonTextThreshold float64 `yaml:"non_text_threshold"`
}

// IntakeConfig controls task-submission validation and chunking.
type IntakeConfig struct {
	ChunkSizeBytes     int                   `yaml:"chunk_size_bytes"`
	MaxDescriptionBytes int                  `yaml:"max_description_bytes"`
	BinaryDetection    BinaryDetectionConfig `yaml:"binary_detection"`
}

// ArbitrationConfig controls verdict generation thresholds.
type ArbitrationConfig struct {
	MinConfidenceForApproval float64 `yaml:"min_confidence_for_approval"`
	AllowConditional         bool    `yaml:"allow_conditional"`
	RequirePrecedents        bool    `yaml:"require_precedents"`
	MinReasoningSteps        int     `yaml:"min_reasoning_steps"`
	MinSimilarityScore       float64 `yaml:"min_similarity_score"`
}

// PolicyConfig controls where the policy/waiver store is discovered and
// how long a load is cached.
type PolicyConfig struct {
	ProjectRoot string        `yaml:"project_root"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// UnmarshalYAML accepts cache_ttl as a duration string ("5m") like the
// rest of the document.
func (p *PolicyConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain struct {
		ProjectRoot string `yaml:"project_root"`
		CacheTTL    string `yaml:"cache_ttl"`
	}
	raw := plain{ProjectRoot: p.ProjectRoot, CacheTTL: p.CacheTTL.String()}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.CacheTTL != "" {
		d, err := time.ParseDuration(raw.CacheTTL)
		if err != nil {
			return fmt.Errorf("policy.cache_ttl: %w", err)
		}
		p.CacheTTL = d
	}
	p.ProjectRoot = raw.ProjectRoot
	return nil
}

// RedisConfig controls the rate-limiter / load-tracker backing store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig controls the durable precedent/verdict/component store.
type PostgresConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxIdleSecs int    `yaml:"conn_max_idle_secs"`
}

// LoggingConfig controls logrus output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// KubernetesConfig controls the infrastructure-controller binding
// (pkg/infra). Disabled by default: an orchestrator with no cluster
// access still runs, with recovery actions simply unavailable.
type KubernetesConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Kubeconfig string `yaml:"kubeconfig"`
	Namespace  string `yaml:"namespace"`
}

// SlackConfig controls the incident-notifier binding (pkg/notify).
type SlackConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Token     string   `yaml:"token"`
	Channel   string   `yaml:"channel"`
	OnCallIDs []string `yaml:"on_call_ids"`
}

// Config is the top-level orchestrator configuration document.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Cache        CacheConfig        `yaml:"cache"`
	HTTP         HTTPConfig         `yaml:"http"`
	Security     SecurityConfig     `yaml:"security"`
	Intake       IntakeConfig       `yaml:"intake"`
	Arbitration  ArbitrationConfig  `yaml:"arbitration"`
	Policy       PolicyConfig       `yaml:"policy"`
	Redis        RedisConfig        `yaml:"redis"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Logging      LoggingConfig      `yaml:"logging"`
	Kubernetes   KubernetesConfig   `yaml:"kubernetes"`
	Slack        SlackConfig        `yaml:"slack"`
}

// Default returns a Config with every field populated from spec.md's
// defaults, suitable as a baseline before a file is merged in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			MetricsAddr: ":9090",
		},
		Orchestrator: OrchestratorConfig{
			HealthCheckInterval:  30 * time.Second,
			FailureThreshold:     3,
			RecoveryTimeout:      5 * time.Minute,
			LoadBalancingEnabled: true,
			AutoScalingEnabled:   false,
			MaxComponentsPerType: 32,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			BackoffMultiplier: 2.0,
			MaxBackoffMs:      60_000,
		},
		Cache: CacheConfig{
			Enabled:  true,
			TTLHours: 1,
		},
		HTTP: HTTPConfig{
			UserAgent:       "agent-agency-orchestrator/1",
			TimeoutMs:       10_000,
			MaxRedirects:    3,
			FollowRedirects: true,
			Timeout:         10 * time.Second,
		},
		Security: SecurityConfig{
			VerifySSL:       true,
			SanitizeContent: true,
			DetectMalicious: true,
			RespectRobots:   true,
		},
		Intake: IntakeConfig{
			ChunkSizeBytes:      5 * 1024,
			MaxDescriptionBytes: 256 * 1024,
			BinaryDetection: BinaryDetectionConfig{
				Enabled:          true,
				SampleBytes:      2 * 1024,
				NonTextThreshold: 0.30,
			},
		},
		Arbitration: ArbitrationConfig{
			MinConfidenceForApproval: 0.75,
			AllowConditional:         true,
			RequirePrecedents:        false,
			MinReasoningSteps:        3,
			MinSimilarityScore:       0.5,
		},
		Policy: PolicyConfig{
			ProjectRoot: ".",
			CacheTTL:    5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Postgres: PostgresConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    2,
			ConnMaxIdleSecs: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path, merges it over Default(), and normalizes derived
// fields (e.g. HTTP.Timeout from HTTP.TimeoutMs).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.HTTP.TimeoutMs > 0 {
		cfg.HTTP.Timeout = time.Duration(cfg.HTTP.TimeoutMs) * time.Millisecond
	}
	if cfg.Orchestrator.MaxComponentsPerType == 0 {
		cfg.Orchestrator.MaxComponentsPerType = Default().Orchestrator.MaxComponentsPerType
	}
	if cfg.Intake.ChunkSizeBytes == 0 {
		cfg.Intake.ChunkSizeBytes = Default().Intake.ChunkSizeBytes
	}

	return cfg, nil
}
