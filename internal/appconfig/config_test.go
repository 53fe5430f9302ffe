package appconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultsOnFirstRun(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Defaults.Strategy != "random" {
		t.Fatalf("unexpected default strategy: %s", cfg.Defaults.Strategy)
	}
	if cfg.Defaults.Retries != 3 {
		t.Fatalf("unexpected default retries: %d", cfg.Defaults.Retries)
	}
	if cfg.Defaults.TimeoutSeconds != 10 {
		t.Fatalf("unexpected default timeout: %d", cfg.Defaults.TimeoutSeconds)
	}
	d, err := ConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(d, "config.yaml")); err != nil {
		t.Fatalf("expected config.yaml to be written: %v", err)
	}
}

func TestLoadNormalizesInvalidStrategy(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := filepath.Join(xdg, "plexy")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := []byte("defaults:\n  strategy: not-a-real-strategy\n  retries: -5\n  timeout_seconds: 0\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Defaults.Strategy != "random" {
		t.Fatalf("expected normalized strategy, got %s", cfg.Defaults.Strategy)
	}
	if cfg.Defaults.Retries != 3 {
		t.Fatalf("expected normalized retries, got %d", cfg.Defaults.Retries)
	}
	if cfg.Defaults.TimeoutSeconds != 10 {
		t.Fatalf("expected normalized timeout, got %d", cfg.Defaults.TimeoutSeconds)
	}
}

func TestStrategyAndDurationHelpers(t *testing.T) {
	cfg := Default()
	strat, err := cfg.Strategy()
	if err != nil {
		t.Fatal(err)
	}
	if strat.String() != "random" {
		t.Fatalf("unexpected strategy: %s", strat)
	}
	if cfg.Timeout().Seconds() != 10 {
		t.Fatalf("unexpected timeout: %v", cfg.Timeout())
	}
	if cfg.CheckInterval().Seconds() != 30 {
		t.Fatalf("unexpected check interval: %v", cfg.CheckInterval())
	}
}

func TestSaveRoundTrips(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := Default()
	cfg.Control.SocketPath = "/tmp/plexy.sock"
	if err := Save(cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.Control.SocketPath != "/tmp/plexy.sock" {
		t.Fatalf("unexpected control socket path: %s", got.Control.SocketPath)
	}
}
