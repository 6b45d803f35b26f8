package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.StoreDriver != DriverPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.StoreDriver)
	}
	if cfg.Engine.MaxRetries != 5 {
		t.Fatalf("expected 5 retries, got %d", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.CriticalSectionTimeout != 3*time.Second {
		t.Fatalf("expected 3s timeout, got %s", cfg.Engine.CriticalSectionTimeout)
	}
	if cfg.Database.Name != "admission" {
		t.Fatalf("expected db name admission, got %q", cfg.Database.Name)
	}
}

func TestLoadDatabasePrefix(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "events")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dsn := cfg.Database.DSN()
	if !strings.Contains(dsn, "host=db.internal") || !strings.Contains(dsn, "dbname=events") {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}

func TestLoadParseError(t *testing.T) {
	t.Setenv("ADMISSION_MAX_RETRIES", "many")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")

	if _, err := Load(); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (Config{LogLevel: in}).SlogLevel(); got != want {
			t.Fatalf("level %q: expected %v, got %v", in, want, got)
		}
	}
}
