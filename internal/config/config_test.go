package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DIALECT", "")
	t.Setenv("DATA_DIR", "/tmp/steam")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected nil err, got %v", err)
	}
	if cfg.Database.Dialect != DialectSQLite {
		t.Fatalf("expected sqlite dialect, got %q", cfg.Database.Dialect)
	}
	if cfg.Database.SQLitePath != "/tmp/steam/steam_data.db" {
		t.Fatalf("unexpected sqlite path %q", cfg.Database.SQLitePath)
	}
	if cfg.Paths.CookiesFile != "/tmp/steam/cookies.json" {
		t.Fatalf("unexpected cookies file %q", cfg.Paths.CookiesFile)
	}
	if cfg.Browser.ChallengeWait != 15*time.Second {
		t.Fatalf("unexpected challenge wait %s", cfg.Browser.ChallengeWait)
	}
	if cfg.Sources.CompareBatchSize != 10 || cfg.Sources.ITADRPS != 1 {
		t.Fatalf("unexpected source defaults %+v", cfg.Sources)
	}
}

func TestLoad_PostgresRequiresConnectionSettings(t *testing.T) {
	t.Setenv("DB_DIALECT", "postgres")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_NAME", "")
	t.Setenv("DB_USER", "")

	_, err := Load()
	if !errors.Is(err, ErrMissingRequiredEnv) {
		t.Fatalf("expected ErrMissingRequiredEnv, got %v", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("DB_DIALECT", "sqlite")
	t.Setenv("ITAD_WORKERS", "many")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid ITAD_WORKERS")
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"15":    15 * time.Second,
		"250ms": 250 * time.Millisecond,
		"2m":    2 * time.Minute,
	}
	for in, want := range cases {
		got, err := parseDuration(in)
		if err != nil {
			t.Fatalf("parseDuration(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseDuration(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := parseDuration("-3"); err == nil {
		t.Fatalf("expected error for negative seconds")
	}
}
