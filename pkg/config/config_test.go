package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8095" {
		t.Errorf("Expected Port to be 8095, got %s", cfg.Port)
	}

	if cfg.Env != "development" {
		t.Errorf("Expected Env to be development, got %s", cfg.Env)
	}

	if cfg.Database.MaxConns != 10 {
		t.Errorf("Expected DB MaxConns to be 10, got %d", cfg.Database.MaxConns)
	}

	if cfg.Feed.CacheTTL.Minutes() != 5 {
		t.Errorf("Expected Feed CacheTTL to be 5m, got %v", cfg.Feed.CacheTTL)
	}
}

func TestLoadWithCustomValues(t *testing.T) {
	os.Setenv("PORT", "9000")
	os.Setenv("ENV", "production")
	os.Setenv("DB_MAX_CONNS", "50")
	os.Setenv("RISK_CONFIG_PATH", "testdata/risk.yaml")
	os.Setenv("FEED_CACHE_TTL", "90s")

	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("ENV")
		os.Unsetenv("DB_MAX_CONNS")
		os.Unsetenv("RISK_CONFIG_PATH")
		os.Unsetenv("FEED_CACHE_TTL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("Expected Port to be 9000, got %s", cfg.Port)
	}

	if cfg.Env != "production" {
		t.Errorf("Expected Env to be production, got %s", cfg.Env)
	}

	if cfg.Database.MaxConns != 50 {
		t.Errorf("Expected DB MaxConns to be 50, got %d", cfg.Database.MaxConns)
	}

	if cfg.RiskConfigPath != "testdata/risk.yaml" {
		t.Errorf("Expected RiskConfigPath testdata/risk.yaml, got %s", cfg.RiskConfigPath)
	}

	if cfg.Feed.CacheTTL.Seconds() != 90 {
		t.Errorf("Expected Feed CacheTTL to be 90s, got %v", cfg.Feed.CacheTTL)
	}
}

func TestLoadRejectsUnknownEnv(t *testing.T) {
	os.Setenv("ENV", "sandbox")
	defer os.Unsetenv("ENV")

	if _, err := Load(); err == nil {
		t.Error("Expected error for unknown ENV, got nil")
	}
}
