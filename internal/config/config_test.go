package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Loop.PollInterval != 30*time.Second {
		t.Errorf("expected poll interval 30s, got %v", cfg.Loop.PollInterval)
	}
	if cfg.Loop.MaxIterations != 0 {
		t.Errorf("expected unlimited iterations, got %d", cfg.Loop.MaxIterations)
	}
	if cfg.Driver.Schedule != "@every 1m" || cfg.Driver.Parallelism != 4 {
		t.Errorf("unexpected driver defaults %+v", cfg.Driver)
	}
	if cfg.Store.Path != filepath.Join(".crowdom", "platform.db") {
		t.Errorf("unexpected store path %q", cfg.Store.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
store:
  path: /var/lib/crowdom/platform.db
loop:
  poll_interval: 5s
  max_iterations: 12
driver:
  schedule: "*/5 * * * *"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Store.Path != "/var/lib/crowdom/platform.db" {
		t.Errorf("store.path = %q", cfg.Store.Path)
	}
	if cfg.Loop.PollInterval != 5*time.Second || cfg.Loop.MaxIterations != 12 {
		t.Errorf("unexpected loop config %+v", cfg.Loop)
	}
	if cfg.Driver.Schedule != "*/5 * * * *" {
		t.Errorf("driver.schedule = %q", cfg.Driver.Schedule)
	}
	// untouched keys keep defaults
	if cfg.Driver.Parallelism != 4 || cfg.Journal.Path != filepath.Join(".crowdom", "journal.db") {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("loop:\n  max_iterations: 3\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("CROWDOM_LOOP_MAX_ITERATIONS", "9")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Loop.MaxIterations != 9 {
		t.Errorf("env override ignored: max_iterations = %d", cfg.Loop.MaxIterations)
	}
}

func TestLoadFromPath_Invalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("driver:\n  parallelism: 0\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := LoadFromPath(configPath); err == nil {
		t.Error("expected validation error for zero parallelism")
	}
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSaveTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Loop.MaxIterations = 7
	cfg.Signals.Dir = "/tmp/signals"

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}
	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}
