package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultHasSaneBounds(t *testing.T) {
	cfg := Default()
	if cfg.Pool.PoolSize <= 0 {
		t.Fatalf("expected a positive default pool size, got %d", cfg.Pool.PoolSize)
	}
	if cfg.Registry.Backend != "file" {
		t.Fatalf("expected file backend by default, got %q", cfg.Registry.Backend)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "pool:\n  pool_size: 5\nregistry:\n  backend: postgres\n  postgres_dsn: postgres://x\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.PoolSize != 5 {
		t.Fatalf("expected pool_size 5, got %d", cfg.Pool.PoolSize)
	}
	if cfg.Registry.Backend != "postgres" {
		t.Fatalf("expected postgres backend, got %q", cfg.Registry.Backend)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("NOVA_POOL_SIZE", "7")
	t.Setenv("NOVA_LISTEN_ADDR", ":9999")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pool.PoolSize != 7 {
		t.Fatalf("expected env override to set pool_size=7, got %d", cfg.Pool.PoolSize)
	}
	if cfg.Server.ListenAddr != ":9999" {
		t.Fatalf("expected env override to set listen_addr, got %q", cfg.Server.ListenAddr)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
