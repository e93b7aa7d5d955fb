package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envConfigPath, "")
	t.Setenv("DATABASE_DSN", "file::memory:")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.Sync.EpsilonCents != 1 {
		t.Fatalf("expected epsilon of 1 cent, got %d", cfg.Sync.EpsilonCents)
	}
	if cfg.Sync.Concurrency != 4 {
		t.Fatalf("expected default sync concurrency, got %d", cfg.Sync.Concurrency)
	}
	if cfg.Commerce.Timeout != 10*time.Second {
		t.Fatalf("expected default commerce timeout, got %s", cfg.Commerce.Timeout)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`environment: staging
http:
  addr: ":9090"
database:
  driver: sqlite
  dsn: "file::memory:?cache=shared"
sync:
  epsilon_cents: 5
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(envConfigPath, path)
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected env override to production, got %q", cfg.Environment)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("expected yaml addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.Database.Driver)
	}
	if cfg.Sync.EpsilonCents != 5 {
		t.Fatalf("expected epsilon 5, got %d", cfg.Sync.EpsilonCents)
	}
}
