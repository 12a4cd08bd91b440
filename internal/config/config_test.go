package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kmp.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreMemory || cfg.HTTPAddr != ":8080" || cfg.TokenIssuer != "kmp" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Workflow.ExpireBackdate != 24*time.Hour || cfg.Workflow.RoleEndBackdate != time.Second || cfg.Workflow.TokenBytes != 32 {
		t.Fatalf("unexpected workflow defaults: %+v", cfg.Workflow)
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := writeConfig(t, `
httpAddr: "127.0.0.1:9000"
store: sqlite
sqlitePath: /var/lib/kmp/kmp.sqlite
rateBurst: 5
workflow:
  expireBackdate: 48h
  tokenBytes: 16
`)
	t.Setenv("KMP_HTTP_ADDR", "0.0.0.0:7000")
	t.Setenv("KMP_WORKFLOW_ROLE_END_BACKDATE", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:7000" {
		t.Fatalf("environment should win, got %q", cfg.HTTPAddr)
	}
	if cfg.Store != StoreSQLite || cfg.SQLitePath != "/var/lib/kmp/kmp.sqlite" || cfg.RateBurst != 5 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Workflow.ExpireBackdate != 48*time.Hour || cfg.Workflow.TokenBytes != 16 {
		t.Fatalf("workflow file values not applied: %+v", cfg.Workflow)
	}
	if cfg.Workflow.RoleEndBackdate != 2*time.Second {
		t.Fatalf("workflow env value not applied: %v", cfg.Workflow.RoleEndBackdate)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown store":     func(c *Config) { c.Store = "redis" },
		"postgres no dsn":   func(c *Config) { c.Store = StorePostgres },
		"negative rate":     func(c *Config) { c.RateLimit = -1 },
		"negative backdate": func(c *Config) { c.Workflow.ExpireBackdate = -time.Hour },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	cfg := Default()
	cfg.Store = " Postgres "
	cfg.DatabaseURL = "postgres://kmp@localhost/kmp"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Store != StorePostgres {
		t.Fatalf("store not normalized: %q", cfg.Store)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestContextRoundTrip(t *testing.T) {
	cfg := Default()
	ctx := WithContext(context.Background(), cfg)
	if FromContext(ctx) != cfg {
		t.Fatal("config not found in context")
	}
	if FromContext(context.Background()) != nil {
		t.Fatal("expected nil config")
	}
}
