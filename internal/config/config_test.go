package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "FormSense" {
		t.Errorf("expected Name=FormSense, got %s", cfg.Name)
	}
	if cfg.Engine.AutoResolveThreshold != 0.8 {
		t.Errorf("expected AutoResolveThreshold=0.8, got %f", cfg.Engine.AutoResolveThreshold)
	}
	if cfg.Engine.MaxIssues != 5 {
		t.Errorf("expected MaxIssues=5, got %d", cfg.Engine.MaxIssues)
	}
	if cfg.SessionRetention() != 24*time.Hour {
		t.Errorf("expected 24h retention, got %v", cfg.SessionRetention())
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("FORMSENSE_DB_PATH", "")
	t.Setenv("FORMSENSE_REGISTRY_DIR", "")
	t.Setenv("FORMSENSE_DEBUG", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Engine.HomeCountry = "Canada"
	cfg.Stores.Backend = "sqlite"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Engine.HomeCountry != "Canada" {
		t.Errorf("expected HomeCountry=Canada, got %s", loaded.Engine.HomeCountry)
	}
	if loaded.Stores.Backend != "sqlite" {
		t.Errorf("expected Backend=sqlite, got %s", loaded.Stores.Backend)
	}
}

func TestConfig_LoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file should not error: %v", err)
	}
	if cfg.Engine.TraversalFloor != 0.7 {
		t.Errorf("expected default TraversalFloor=0.7, got %f", cfg.Engine.TraversalFloor)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("FORMSENSE_DEBUG", "true")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Advisor.APIKey != "env-key" {
		t.Errorf("expected APIKey=env-key, got %s", cfg.Advisor.APIKey)
	}
	if !cfg.Logging.DebugMode {
		t.Error("expected DebugMode=true from env")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	cfg.Engine.AutoResolveThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for threshold > 1")
	}

	cfg = DefaultConfig()
	cfg.Stores.Backend = "redis"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown backend")
	}

	cfg = DefaultConfig()
	cfg.Advisor.Enabled = true
	cfg.Advisor.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for advisor without key")
	}

}

func TestConfig_SessionRetentionFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stores.SessionRetention = "bogus"
	if cfg.SessionRetention() != 24*time.Hour {
		t.Errorf("bad duration should fall back to 24h, got %v", cfg.SessionRetention())
	}
}
