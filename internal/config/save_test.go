package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestSaveCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "deep", "config.yaml")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("config file was not created: %s", path)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{
		"alpha": {Model: "alpha-large", Priority: 0, RequestsPerMinute: 30, TokensPerMinute: 40000},
		"beta":  {Model: "beta-small", Priority: 1, RequestsPerMinute: 90, TokensPerMinute: 80000},
	}
	cfg.Engine.MaxInFlight = 2
	cfg.Breaker.ConsecutiveTrip = 3

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Providers["alpha"].Model != "alpha-large" {
		t.Errorf("alpha model = %q, want alpha-large", loaded.Providers["alpha"].Model)
	}
	if loaded.Providers["beta"].Priority != 1 {
		t.Errorf("beta priority = %d, want 1", loaded.Providers["beta"].Priority)
	}
	if loaded.Engine.MaxInFlight != 2 {
		t.Errorf("maxInFlight = %d, want 2", loaded.Engine.MaxInFlight)
	}
	if loaded.Breaker.ConsecutiveTrip != 3 {
		t.Errorf("consecutiveTrip = %d, want 3", loaded.Breaker.ConsecutiveTrip)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Checkpoint.SQLitePath = "first-value"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	cfg.Checkpoint.SQLitePath = "second-value"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading config file: %v", err)
	}
	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("parsing config: %v", err)
	}
	if loaded.Checkpoint.SQLitePath != "second-value" {
		t.Errorf("sqlitePath = %q, want second-value", loaded.Checkpoint.SQLitePath)
	}
}
