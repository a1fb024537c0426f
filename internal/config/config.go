// Package config implements CrossBridge's layered configuration (spec §4.8,
// §6): hardcoded defaults -> crossbridge.yml -> CROSSBRIDGE_* environment
// variables -> CLI flags bound into the viper instance, in that priority
// order (later wins).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration document, matching crossbridge.yml's
// top-level sections (spec §6).
type Config struct {
	Execution     ExecutionConfig     `mapstructure:"execution"`
	Sidecar       SidecarConfig       `mapstructure:"sidecar"`
	Runtime       RuntimeConfig       `mapstructure:"runtime"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ExecutionConfig configures strategies and adapters (C1/C2/C3).
type ExecutionConfig struct {
	DefaultStrategy     string            `mapstructure:"default_strategy"`
	SmokeTags           []string          `mapstructure:"smoke_tags"`
	ImpactedMinTests    int               `mapstructure:"impacted_min_tests"`
	ImpactedSimilarity  float64           `mapstructure:"impacted_similarity_threshold"`
	RiskMaxTests        int               `mapstructure:"risk_max_tests"`
	DefaultMaxDuration  int               `mapstructure:"default_max_duration_minutes"`
	GraceTerminationSec int               `mapstructure:"grace_termination_seconds"`
	ReportsDir          string            `mapstructure:"reports_dir"`
	Adapters            map[string]bool   `mapstructure:"adapters"`
	AI                  AIConfig          `mapstructure:"ai"`
}

// SidecarConfig configures the HTTP observer (C4).
type SidecarConfig struct {
	Mode             string             `mapstructure:"mode"` // observer|embedded
	Host             string             `mapstructure:"host"`
	Port             int                `mapstructure:"port"` // 0 = auto-discover
	PortRange        string             `mapstructure:"port_range"`
	AutoDiscoverPort bool               `mapstructure:"auto_discover_port"`
	MaxQueueSize     int                `mapstructure:"max_queue_size"`
	DropOnFull       bool               `mapstructure:"drop_on_full"`
	WorkerPoolSize   int                `mapstructure:"worker_pool_size"`
	MaxCPUPercent    float64            `mapstructure:"max_cpu_percent"`
	MaxMemoryMB      float64            `mapstructure:"max_memory_mb"`
	Sampling         SamplingConfig     `mapstructure:"sampling"`
	Adaptive         AdaptiveConfig     `mapstructure:"adaptive"`
}

// SamplingConfig holds per-event-type base sampling rates.
type SamplingConfig struct {
	Events     float64 `mapstructure:"events"`
	Traces     float64 `mapstructure:"traces"`
	Profiling  float64 `mapstructure:"profiling"`
	TestEvents float64 `mapstructure:"test_events"`
}

// AdaptiveConfig controls anomaly-triggered sampling boosts.
type AdaptiveConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BoostFactor  float64       `mapstructure:"boost_factor"`
	BoostDuration time.Duration `mapstructure:"boost_duration"`
}

// RuntimeConfig is the runtime.sidecar.* tree: profiling, health, anomaly boost.
type RuntimeConfig struct {
	Profiling    ProfilingConfig    `mapstructure:"profiling"`
	HealthChecks HealthChecksConfig `mapstructure:"health_checks"`
}

// ProfilingConfig configures the CPU/RSS sampler.
type ProfilingConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	SamplingInterval time.Duration `mapstructure:"sampling_interval"`
	RetentionWindow  time.Duration `mapstructure:"retention_window"`
}

// HealthChecksConfig configures cold-start grace and thresholds.
type HealthChecksConfig struct {
	ColdStartGrace time.Duration `mapstructure:"cold_start_grace"`
	DropRateLimit  float64       `mapstructure:"drop_rate_limit"`
	HandlerErrLimit float64      `mapstructure:"handler_error_limit"`
}

// DatabaseConfig configures the persistence backend (C6).
type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Name        string `mapstructure:"name"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	RedisURL    string `mapstructure:"redis_url"`
	SpoolDir    string `mapstructure:"spool_dir"`
	CleanupDays int    `mapstructure:"cleanup_days"`
}

// ObservabilityConfig holds the Grafana/webhook wiring named by spec §6.
// CrossBridge itself only exports metrics (§4.7); dashboards are an
// external collaborator (spec §1 Non-goals/out-of-scope).
type ObservabilityConfig struct {
	GrafanaURL string   `mapstructure:"grafana_url"`
	Webhooks   []string `mapstructure:"webhooks"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Debug  bool   `mapstructure:"debug"`
}

// AI enrichment lives under execution in the YAML but is broken out here
// because it crosses into the classifier package's own config surface.
type AIConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Provider   string        `mapstructure:"provider"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxBudget  int           `mapstructure:"max_budget"`
}

const envPrefix = "CROSSBRIDGE"

// Defaults returns the hardcoded configuration baseline (lowest priority
// layer), mirroring gomind core.DefaultConfig's role.
func Defaults() *Config {
	return &Config{
		Execution: ExecutionConfig{
			DefaultStrategy:     "smoke",
			SmokeTags:           []string{"smoke", "sanity", "critical", "p0"},
			ImpactedMinTests:    5,
			ImpactedSimilarity:  0.7,
			RiskMaxTests:        100,
			DefaultMaxDuration:  0,
			GraceTerminationSec: 10,
			ReportsDir:          "/data/reports",
			AI: AIConfig{
				Enabled:   false,
				Provider:  "mock",
				Timeout:   30 * time.Second,
				MaxBudget: 0,
			},
		},
		Sidecar: SidecarConfig{
			Mode:           "observer",
			Host:           "0.0.0.0",
			Port:           9090,
			PortRange:      "9090-9100",
			AutoDiscoverPort: false,
			MaxQueueSize:   10000,
			DropOnFull:     true,
			WorkerPoolSize: 2,
			MaxCPUPercent:  5.0,
			MaxMemoryMB:    100.0,
			Sampling: SamplingConfig{
				Events:     0.1,
				Traces:     0.05,
				Profiling:  0.01,
				TestEvents: 0.2,
			},
			Adaptive: AdaptiveConfig{
				Enabled:       true,
				BoostFactor:   5.0,
				BoostDuration: 60 * time.Second,
			},
		},
		Runtime: RuntimeConfig{
			Profiling: ProfilingConfig{
				Enabled:          true,
				SamplingInterval: time.Second,
				RetentionWindow:  5 * time.Minute,
			},
			HealthChecks: HealthChecksConfig{
				ColdStartGrace:  30 * time.Second,
				DropRateLimit:   0.05,
				HandlerErrLimit: 0.01,
			},
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        6379,
			Name:        "crossbridge",
			SpoolDir:    "/data/cache/spool",
			CleanupDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Load builds the layered config: defaults -> YAML file (if present) ->
// CROSSBRIDGE_* environment variables. Flags that a caller binds into v
// (viper.BindPFlag) take precedence over all three; the cliapp root command
// binds no flags into its viper instance, so it gets only those three layers.
func Load(path string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	defaults := Defaults()
	setDefaults(v, defaults)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, path, err)
			}
		} else if warnings := unknownKeys(v, defaults); len(warnings) > 0 {
			// Unknown top-level keys warn rather than fail (spec §4.8/§6).
			for _, w := range warnings {
				fmt.Printf("warning: unknown config key %q in %s\n", w, path)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("execution.default_strategy", d.Execution.DefaultStrategy)
	v.SetDefault("execution.smoke_tags", d.Execution.SmokeTags)
	v.SetDefault("execution.impacted_min_tests", d.Execution.ImpactedMinTests)
	v.SetDefault("execution.impacted_similarity_threshold", d.Execution.ImpactedSimilarity)
	v.SetDefault("execution.risk_max_tests", d.Execution.RiskMaxTests)
	v.SetDefault("execution.default_max_duration_minutes", d.Execution.DefaultMaxDuration)
	v.SetDefault("execution.grace_termination_seconds", d.Execution.GraceTerminationSec)
	v.SetDefault("execution.reports_dir", d.Execution.ReportsDir)
	v.SetDefault("execution.ai.enabled", d.Execution.AI.Enabled)
	v.SetDefault("execution.ai.provider", d.Execution.AI.Provider)
	v.SetDefault("execution.ai.timeout", d.Execution.AI.Timeout)
	v.SetDefault("execution.ai.max_budget", d.Execution.AI.MaxBudget)

	v.SetDefault("sidecar.mode", d.Sidecar.Mode)
	v.SetDefault("sidecar.host", d.Sidecar.Host)
	v.SetDefault("sidecar.port", d.Sidecar.Port)
	v.SetDefault("sidecar.port_range", d.Sidecar.PortRange)
	v.SetDefault("sidecar.auto_discover_port", d.Sidecar.AutoDiscoverPort)
	v.SetDefault("sidecar.max_queue_size", d.Sidecar.MaxQueueSize)
	v.SetDefault("sidecar.drop_on_full", d.Sidecar.DropOnFull)
	v.SetDefault("sidecar.worker_pool_size", d.Sidecar.WorkerPoolSize)
	v.SetDefault("sidecar.max_cpu_percent", d.Sidecar.MaxCPUPercent)
	v.SetDefault("sidecar.max_memory_mb", d.Sidecar.MaxMemoryMB)
	v.SetDefault("sidecar.sampling.events", d.Sidecar.Sampling.Events)
	v.SetDefault("sidecar.sampling.traces", d.Sidecar.Sampling.Traces)
	v.SetDefault("sidecar.sampling.profiling", d.Sidecar.Sampling.Profiling)
	v.SetDefault("sidecar.sampling.test_events", d.Sidecar.Sampling.TestEvents)
	v.SetDefault("sidecar.adaptive.enabled", d.Sidecar.Adaptive.Enabled)
	v.SetDefault("sidecar.adaptive.boost_factor", d.Sidecar.Adaptive.BoostFactor)
	v.SetDefault("sidecar.adaptive.boost_duration", d.Sidecar.Adaptive.BoostDuration)

	v.SetDefault("runtime.profiling.enabled", d.Runtime.Profiling.Enabled)
	v.SetDefault("runtime.profiling.sampling_interval", d.Runtime.Profiling.SamplingInterval)
	v.SetDefault("runtime.profiling.retention_window", d.Runtime.Profiling.RetentionWindow)
	v.SetDefault("runtime.health_checks.cold_start_grace", d.Runtime.HealthChecks.ColdStartGrace)
	v.SetDefault("runtime.health_checks.drop_rate_limit", d.Runtime.HealthChecks.DropRateLimit)
	v.SetDefault("runtime.health_checks.handler_error_limit", d.Runtime.HealthChecks.HandlerErrLimit)

	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.name", d.Database.Name)
	v.SetDefault("database.spool_dir", d.Database.SpoolDir)
	v.SetDefault("database.cleanup_days", d.Database.CleanupDays)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.debug", d.Logging.Debug)
}

// unknownKeys compares the keys present in the loaded file against the
// known defaults tree, warning (not failing) on anything unrecognized.
func unknownKeys(v *viper.Viper, d *Config) []string {
	known := map[string]bool{
		"execution": true, "sidecar": true, "runtime": true,
		"database": true, "observability": true, "logging": true,
	}
	var unknown []string
	for _, k := range v.AllKeys() {
		top := strings.SplitN(k, ".", 2)[0]
		if !known[top] {
			unknown = append(unknown, top)
		}
	}
	return unknown
}
