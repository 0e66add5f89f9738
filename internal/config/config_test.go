package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.StorageDriver != DriverMinio {
		t.Errorf("StorageDriver = %q, want %q", cfg.StorageDriver, DriverMinio)
	}
	if cfg.StoragePrefix != "images" {
		t.Errorf("StoragePrefix = %q, want images", cfg.StoragePrefix)
	}
	if cfg.RefreshConcurrency != 8 {
		t.Errorf("RefreshConcurrency = %d, want 8", cfg.RefreshConcurrency)
	}
	if cfg.UploadRequireImage {
		t.Error("UploadRequireImage should default to false")
	}
	if cfg.IsProduction() {
		t.Error("IsProduction() should be false by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", DriverGCS)
	t.Setenv("STORAGE_ENDPOINT", "")
	t.Setenv("STORAGE_URL_TTL", "15m")
	t.Setenv("UPLOAD_REQUIRE_IMAGE", "true")
	t.Setenv("REFRESH_CONCURRENCY", "3")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StorageDriver != DriverGCS {
		t.Errorf("StorageDriver = %q, want %q", cfg.StorageDriver, DriverGCS)
	}
	if cfg.StorageURLTTL != 15*time.Minute {
		t.Errorf("StorageURLTTL = %s, want 15m", cfg.StorageURLTTL)
	}
	if !cfg.UploadRequireImage {
		t.Error("UploadRequireImage should be true")
	}
	if cfg.RefreshConcurrency != 3 {
		t.Errorf("RefreshConcurrency = %d, want 3", cfg.RefreshConcurrency)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() should be true")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown driver", "STORAGE_DRIVER", "ftp"},
		{"zero concurrency", "REFRESH_CONCURRENCY", "0"},
		{"non-numeric port", "PORT", "http"},
		{"unknown env", "APP_ENV", "staging"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), "invalid config") {
				t.Errorf("error = %v, want it to mention invalid config", err)
			}
		})
	}
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("STORAGE_USE_SSL", "maybe")
	t.Setenv("SESSION_TTL", "forever")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StorageUseSSL {
		t.Error("StorageUseSSL should fall back to false")
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %s, want 24h", cfg.SessionTTL)
	}
}
