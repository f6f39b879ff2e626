package config_test

import (
	"testing"
	"time"

	"github.com/emilniklas/sequent/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.Default()
	if cfg.Server.AdminAddress == "" {
		t.Fatal("expected a default admin address")
	}
	if cfg.CatchUp.CatchUpIdleMs <= 0 {
		t.Fatal("expected a positive default catch-up idle threshold")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("SEQUENT_ADMIN_ADDRESS", ":9999")
	t.Setenv("SEQUENT_POSTGRES_DSN", "postgres://example/db")
	t.Setenv("SEQUENT_TRACING_ENABLED", "true")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.AdminAddress != ":9999" {
		t.Fatalf("expected admin address override, got %q", cfg.Server.AdminAddress)
	}
	if cfg.Storage.Postgres.DSN != "postgres://example/db" {
		t.Fatalf("expected postgres DSN override, got %q", cfg.Storage.Postgres.DSN)
	}
	if !cfg.Observability.TracingEnabled {
		t.Fatal("expected tracing enabled override to apply")
	}
}

func TestLoadWithoutOverridesMatchesDefault(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Postgres.ConnMaxLifetime != 5*time.Minute {
		t.Fatalf("expected default conn max lifetime to survive an override-free Load, got %v", cfg.Storage.Postgres.ConnMaxLifetime)
	}
}
