package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/exercisejudge/judge/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxWorkers != 2 {
		t.Errorf("expected default MaxWorkers=2, got %d", cfg.MaxWorkers)
	}
	if cfg.MaxQueue != 200 {
		t.Errorf("expected default MaxQueue=200, got %d", cfg.MaxQueue)
	}
	if cfg.CodeMaxBytes != 131072 {
		t.Errorf("expected default CodeMaxBytes=131072, got %d", cfg.CodeMaxBytes)
	}
	if cfg.JobTTL() != 30*time.Minute {
		t.Errorf("expected JobTTL=30m, got %v", cfg.JobTTL())
	}
}

func TestLoad_YAMLLayerThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "judge.yaml")
	if err := os.WriteFile(path, []byte("max_workers: 5\nmax_queue: 50\n"), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_QUEUE", "99")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxWorkers != 5 {
		t.Errorf("expected yaml value MaxWorkers=5, got %d", cfg.MaxWorkers)
	}
	if cfg.MaxQueue != 99 {
		t.Errorf("expected env override MaxQueue=99, got %d", cfg.MaxQueue)
	}
}

func TestIsEnvHelpers(t *testing.T) {
	dev := config.Config{AppEnv: "dev"}
	if !dev.IsDev() || dev.IsProd() || dev.IsTest() {
		t.Fatalf("dev helpers wrong: %+v", dev)
	}
	prod := config.Config{AppEnv: "PROD"}
	if !prod.IsProd() {
		t.Fatalf("expected case-insensitive prod match")
	}
}
