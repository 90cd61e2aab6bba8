// Package config loads steward configuration from YAML with environment
// variable overrides. Precedence: defaults < user config < project config
// < environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultMaxInfraWorkers     = 2
	DefaultMaxExecWorkers      = 4
	DefaultMaxTaskRetries      = 3
	DefaultClaimInterval       = 2 * time.Second
	DefaultRunBudget           = 4 * time.Hour
	DefaultAutoResolveMode     = "manual"
	DefaultConfidenceThreshold = 0.8
	DefaultLookbackDays        = 30
	DefaultMaxProposals        = 3
	DefaultAPIBind             = "127.0.0.1:4490"
	DefaultScorerRateLimit     = 2.0 // capability calls per second
	DefaultScorerBurst         = 4
)

// Config represents the complete steward configuration
type Config struct {
	Storage      StorageConfig      `yaml:"storage"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	AutoResolve  AutoResolveConfig  `yaml:"auto_resolve"`
	Improve      ImproveConfig      `yaml:"improve"`
	Bus          BusConfig          `yaml:"bus"`
	API          APIConfig          `yaml:"api"`
	Logging      LoggingConfig      `yaml:"logging"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// OrchestratorConfig bounds worker pools and retries.
type OrchestratorConfig struct {
	MaxInfraWorkers int           `yaml:"max_infra_workers"`
	MaxExecWorkers  int           `yaml:"max_exec_workers"`
	MaxTaskRetries  int           `yaml:"max_task_retries"`
	ClaimInterval   time.Duration `yaml:"claim_interval"`
	RunBudget       time.Duration `yaml:"run_budget"`
	SkipValidation  bool          `yaml:"skip_validation"`
}

// AutoResolveConfig is the default per-outcome resolution policy. Outcomes
// can override mode and threshold individually.
type AutoResolveConfig struct {
	Mode                string  `yaml:"mode"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	ScorerRateLimit     float64 `yaml:"scorer_rate_limit"`
	ScorerBurst         int     `yaml:"scorer_burst"`
}

// ImproveConfig controls the escalation clustering pass.
type ImproveConfig struct {
	LookbackDays int `yaml:"lookback_days"`
	MaxProposals int `yaml:"max_proposals"`
}

// BusConfig selects the observation transport.
type BusConfig struct {
	// URL is a NATS server address; empty selects the in-process bus.
	URL string `yaml:"url"`
}

// APIConfig configures the HTTP surface consumed by the dashboard and CLI.
type APIConfig struct {
	Bind string `yaml:"bind"`
}

// LoggingConfig configures structured JSONL output.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// TelemetryConfig toggles tracing output.
type TelemetryConfig struct {
	TracingEnabled bool `yaml:"tracing_enabled"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".steward")
	return &Config{
		Storage: StorageConfig{
			Path: filepath.Join(base, "steward.db"),
		},
		Orchestrator: OrchestratorConfig{
			MaxInfraWorkers: DefaultMaxInfraWorkers,
			MaxExecWorkers:  DefaultMaxExecWorkers,
			MaxTaskRetries:  DefaultMaxTaskRetries,
			ClaimInterval:   DefaultClaimInterval,
			RunBudget:       DefaultRunBudget,
		},
		AutoResolve: AutoResolveConfig{
			Mode:                DefaultAutoResolveMode,
			ConfidenceThreshold: DefaultConfidenceThreshold,
			ScorerRateLimit:     DefaultScorerRateLimit,
			ScorerBurst:         DefaultScorerBurst,
		},
		Improve: ImproveConfig{
			LookbackDays: DefaultLookbackDays,
			MaxProposals: DefaultMaxProposals,
		},
		API: APIConfig{
			Bind: DefaultAPIBind,
		},
		Logging: LoggingConfig{
			Dir:   filepath.Join(base, "logs"),
			Level: "info",
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userPath := filepath.Join(home, ".steward", "config.yaml")
		if err := loadAndMerge(cfg, userPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectPath := filepath.Join(".", ".steward", "config.yaml")
	if err := loadAndMerge(cfg, projectPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadAndMerge overlays the YAML at path onto cfg.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STEWARD_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("STEWARD_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("STEWARD_API_BIND"); v != "" {
		cfg.API.Bind = v
	}
	if v := os.Getenv("STEWARD_AUTO_RESOLVE_MODE"); v != "" {
		cfg.AutoResolve.Mode = v
	}
	if v := os.Getenv("STEWARD_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AutoResolve.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("STEWARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}
	if c.Orchestrator.MaxInfraWorkers < 1 {
		return fmt.Errorf("orchestrator.max_infra_workers must be at least 1, got %d", c.Orchestrator.MaxInfraWorkers)
	}
	if c.Orchestrator.MaxExecWorkers < 1 {
		return fmt.Errorf("orchestrator.max_exec_workers must be at least 1, got %d", c.Orchestrator.MaxExecWorkers)
	}
	if c.Orchestrator.MaxTaskRetries < 0 {
		return fmt.Errorf("orchestrator.max_task_retries cannot be negative, got %d", c.Orchestrator.MaxTaskRetries)
	}
	if c.Orchestrator.ClaimInterval <= 0 {
		return fmt.Errorf("orchestrator.claim_interval must be positive, got %s", c.Orchestrator.ClaimInterval)
	}
	switch c.AutoResolve.Mode {
	case "manual", "semi-auto", "full-auto":
	default:
		return fmt.Errorf("auto_resolve.mode must be manual, semi-auto, or full-auto, got %q", c.AutoResolve.Mode)
	}
	if c.AutoResolve.ConfidenceThreshold < 0 || c.AutoResolve.ConfidenceThreshold > 1 {
		return fmt.Errorf("auto_resolve.confidence_threshold must be in [0,1], got %v", c.AutoResolve.ConfidenceThreshold)
	}
	if c.AutoResolve.ScorerRateLimit <= 0 {
		return fmt.Errorf("auto_resolve.scorer_rate_limit must be positive, got %v", c.AutoResolve.ScorerRateLimit)
	}
	if c.Improve.LookbackDays < 1 {
		return fmt.Errorf("improve.lookback_days must be at least 1, got %d", c.Improve.LookbackDays)
	}
	if c.Improve.MaxProposals < 1 {
		return fmt.Errorf("improve.max_proposals must be at least 1, got %d", c.Improve.MaxProposals)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
