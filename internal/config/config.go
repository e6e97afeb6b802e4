// Package config loads and validates FormSense configuration.
// Configuration lives in a single YAML file (default
// <workspace>/.formsense/config.yaml) with environment-variable
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all FormSense configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Decision-engine policy parameters
	Engine EngineConfig `yaml:"engine"`

	// Rule/tree/session stores
	Stores StoresConfig `yaml:"stores"`

	// Background worker
	Worker WorkerConfig `yaml:"worker"`

	// Optional escalation review summarizer
	Advisor AdvisorConfig `yaml:"advisor"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig carries the decision-engine policy parameters. The
// source system hard-coded these; they are configuration here because
// there is no evidence they were tuned against real data.
type EngineConfig struct {
	// AutoResolveThreshold gates automatic conflict resolution.
	// Conflicts below it always surface to a human.
	AutoResolveThreshold float64 `yaml:"auto_resolve_threshold"`

	// TraversalFloor stops a decision-tree walk once its running
	// confidence falls to or below this value.
	TraversalFloor float64 `yaml:"traversal_floor"`

	// EscalationMinConfidence escalates when overall validation
	// confidence drops below it.
	EscalationMinConfidence float64 `yaml:"escalation_min_confidence"`

	// UnresolvableConflictFloor escalates when any detected conflict
	// has confidence below it.
	UnresolvableConflictFloor float64 `yaml:"unresolvable_conflict_floor"`

	// MaxIssues escalates when errors+warnings exceed it.
	MaxIssues int `yaml:"max_issues"`

	// HomeCountry anchors the in-state/international consistency
	// check.
	HomeCountry string `yaml:"home_country"`

	// EligibilityEnabled toggles the Datalog eligibility advisor.
	EligibilityEnabled bool `yaml:"eligibility_enabled"`
}

// StoresConfig configures rule, tree, and session storage.
type StoresConfig struct {
	// Backend selects "sqlite" or "registry" (YAML files).
	Backend string `yaml:"backend"`

	// DatabasePath locates the SQLite database.
	DatabasePath string `yaml:"database_path"`

	// RegistryDir holds rules.yaml and trees/*.yaml for the file
	// registry backend.
	RegistryDir string `yaml:"registry_dir"`

	// WatchRegistry enables fsnotify hot-reload of registry files.
	WatchRegistry bool `yaml:"watch_registry"`

	// SessionRetention bounds how long a FormContext survives between
	// updates.
	SessionRetention string `yaml:"session_retention"`
}

// WorkerConfig configures the background execution path.
type WorkerConfig struct {
	Enabled   bool `yaml:"enabled"`
	Count     int  `yaml:"count"`
	QueueSize int  `yaml:"queue_size"`
}

// AdvisorConfig configures the optional GenAI review summarizer.
type AdvisorConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration. Policy defaults
// match the source system's constants.
func DefaultConfig() *Config {
	return &Config{
		Name:    "FormSense",
		Version: "1.0.0",
		Engine: EngineConfig{
			AutoResolveThreshold:      0.8,
			TraversalFloor:            0.7,
			EscalationMinConfidence:   0.5,
			UnresolvableConflictFloor: 0.7,
			MaxIssues:                 5,
			HomeCountry:               "United States",
			EligibilityEnabled:        true,
		},
		Stores: StoresConfig{
			Backend:          "registry",
			DatabasePath:     ".formsense/formsense.db",
			RegistryDir:      ".formsense/registry",
			WatchRegistry:    false,
			SessionRetention: "24h",
		},
		Worker: WorkerConfig{
			Enabled:   true,
			Count:     1,
			QueueSize: 32,
		},
		Advisor: AdvisorConfig{
			Enabled: false,
			Model:   "gemini-2.0-flash",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads a config file and applies env overrides. A missing file
// yields the defaults (still with overrides applied).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides pulls secrets and operational knobs from the
// environment. Env values win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Advisor.APIKey = v
	}
	if v := os.Getenv("FORMSENSE_DB_PATH"); v != "" {
		c.Stores.DatabasePath = v
	}
	if v := os.Getenv("FORMSENSE_REGISTRY_DIR"); v != "" {
		c.Stores.RegistryDir = v
	}
	if v := os.Getenv("FORMSENSE_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// SessionRetention parses the retention window, defaulting to 24h on
// any parse failure.
func (c *Config) SessionRetention() time.Duration {
	d, err := time.ParseDuration(c.Stores.SessionRetention)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// Validate checks ranges on the policy parameters.
func (c *Config) Validate() error {
	check01 := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %f", name, v)
		}
		return nil
	}
	if err := check01("engine.auto_resolve_threshold", c.Engine.AutoResolveThreshold); err != nil {
		return err
	}
	if err := check01("engine.traversal_floor", c.Engine.TraversalFloor); err != nil {
		return err
	}
	if err := check01("engine.escalation_min_confidence", c.Engine.EscalationMinConfidence); err != nil {
		return err
	}
	if err := check01("engine.unresolvable_conflict_floor", c.Engine.UnresolvableConflictFloor); err != nil {
		return err
	}
	if c.Engine.MaxIssues < 0 {
		return fmt.Errorf("engine.max_issues must be >= 0, got %d", c.Engine.MaxIssues)
	}
	if c.Engine.HomeCountry == "" {
		return fmt.Errorf("engine.home_country must not be empty")
	}
	switch c.Stores.Backend {
	case "sqlite", "registry":
	default:
		return fmt.Errorf("stores.backend must be sqlite or registry, got %q", c.Stores.Backend)
	}
	if c.Worker.Enabled && c.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be >= 1 when worker enabled, got %d", c.Worker.Count)
	}
	if c.Advisor.Enabled && c.Advisor.APIKey == "" {
		return fmt.Errorf("advisor enabled but no API key configured (set GEMINI_API_KEY)")
	}
	return nil
}
