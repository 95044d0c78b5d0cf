package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storage.Driver != "file" {
		t.Errorf("expected default storage driver 'file', got %s", cfg.Storage.Driver)
	}

	if cfg.Offline.APIPrefix != "/api/" {
		t.Errorf("expected api prefix '/api/', got %s", cfg.Offline.APIPrefix)
	}

	if len(cfg.Offline.Precache) != 4 {
		t.Errorf("expected 4 precached assets, got %d", len(cfg.Offline.Precache))
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Driver = "redis"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown driver")
	}

	cfg = DefaultConfig()
	cfg.Offline.CacheVersion = " "
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty cache version")
	}

	cfg = DefaultConfig()
	cfg.Offline.APIPrefix = "api/"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for relative api prefix")
	}
}

func TestStoragePath(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Driver: "sqlite", WorkDir: "/tmp/ff"}}
	if got := cfg.StoragePath(); got != filepath.Join("/tmp/ff", "fitfusion.db") {
		t.Errorf("unexpected sqlite path %s", got)
	}

	cfg.Storage.Driver = "file"
	if got := cfg.StoragePath(); got != filepath.Join("/tmp/ff", "data") {
		t.Errorf("unexpected file path %s", got)
	}

	cfg.Storage.Path = "/var/lib/ff"
	if got := cfg.StoragePath(); got != "/var/lib/ff" {
		t.Errorf("explicit path should win, got %s", got)
	}
}

func TestEnsureWorkDir(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{
		Storage: StorageConfig{
			WorkDir: filepath.Join(tmpDir, "work"),
		},
	}

	if err := cfg.EnsureWorkDir(); err != nil {
		t.Fatalf("failed to ensure work dir: %v", err)
	}

	if _, err := os.Stat(cfg.Storage.WorkDir); os.IsNotExist(err) {
		t.Error("work directory not created")
	}
}

func TestLoadWithoutConfigFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Origin == "" {
		t.Error("origin should not be empty")
	}

	if cfg.Storage.WorkDir == "" {
		t.Error("work dir should not be empty")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FITFUSION_SERVER_ORIGIN", "http://origin.test")
	t.Setenv("FITFUSION_OFFLINE_CACHE_VERSION", "v9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Origin != "http://origin.test" {
		t.Errorf("expected env origin, got %s", cfg.Server.Origin)
	}
	if cfg.Offline.CacheVersion != "v9" {
		t.Errorf("expected env cache version, got %s", cfg.Offline.CacheVersion)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Storage.WorkDir = tmpDir
	cfg.Storage.Driver = "sqlite"
	cfg.Server.Origin = "https://app.example.com"
	cfg.Offline.CacheVersion = "v2"
	cfg.Chat.SyncDelay = 250 * time.Millisecond

	if err := cfg.Save(); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := Load(cfg.ConfigPath())
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.Storage.Driver != "sqlite" {
		t.Errorf("expected driver sqlite, got %s", loaded.Storage.Driver)
	}
	if loaded.Server.Origin != cfg.Server.Origin {
		t.Errorf("expected origin %s, got %s", cfg.Server.Origin, loaded.Server.Origin)
	}
	if loaded.Offline.CacheVersion != "v2" {
		t.Errorf("expected cache version v2, got %s", loaded.Offline.CacheVersion)
	}
	if loaded.Chat.SyncDelay != 250*time.Millisecond {
		t.Errorf("expected sync delay 250ms, got %s", loaded.Chat.SyncDelay)
	}
}
