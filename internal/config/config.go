package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fitfusion/fitfusion/internal/logger"
)

// Config holds all configuration for fitfusion
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Offline OfflineConfig `mapstructure:"offline"`
	Storage StorageConfig `mapstructure:"storage"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the proxy listener and upstream origin
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Origin          string        `mapstructure:"origin"` // upstream web app, e.g. http://localhost:5173
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
}

// OfflineConfig holds cache controller settings
type OfflineConfig struct {
	CachePrefix  string   `mapstructure:"cache_prefix"`
	CacheVersion string   `mapstructure:"cache_version"` // bump to invalidate every cache
	APIPrefix    string   `mapstructure:"api_prefix"`
	BackendHosts []string `mapstructure:"backend_hosts"` // exact host or any subdomain
	Placeholder  string   `mapstructure:"placeholder"`
	Precache     []string `mapstructure:"precache"`
}

// StorageConfig holds key-value storage settings
type StorageConfig struct {
	Driver     string `mapstructure:"driver"` // memory, file, sqlite
	WorkDir    string `mapstructure:"work_dir"`
	Path       string `mapstructure:"path"` // defaults under work_dir
	QuotaBytes int64  `mapstructure:"quota_bytes"`
}

// ChatConfig holds chat persistence settings
type ChatConfig struct {
	SyncDelay time.Duration `mapstructure:"sync_delay"`
	BackupDir string        `mapstructure:"backup_dir"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	workDir := filepath.Join(home, ".fitfusion")

	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Origin:          "http://localhost:5173",
			UpstreamTimeout: 30 * time.Second,
		},
		Offline: OfflineConfig{
			CachePrefix:  "fitfusion",
			CacheVersion: "v1",
			APIPrefix:    "/api/",
			BackendHosts: []string{"supabase.co"},
			Placeholder:  "/images/placeholder.png",
			Precache: []string{
				"/",
				"/favicon.ico",
				"/images/placeholder.png",
				"/manifest.json",
			},
		},
		Storage: StorageConfig{
			Driver:     "file",
			WorkDir:    workDir,
			QuotaBytes: 5 * 1024 * 1024,
		},
		Chat: ChatConfig{
			SyncDelay: time.Second,
			BackupDir: ".",
		},
		Logging: LoggingConfig{
			Level:  string(logger.LevelInfo),
			Format: string(logger.FormatText),
		},
	}
}

// Load reads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(cfg.Storage.WorkDir)
		v.AddConfigPath("/etc/fitfusion")
	}

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.origin", cfg.Server.Origin)
	v.SetDefault("server.upstream_timeout", cfg.Server.UpstreamTimeout)
	v.SetDefault("offline.cache_prefix", cfg.Offline.CachePrefix)
	v.SetDefault("offline.cache_version", cfg.Offline.CacheVersion)
	v.SetDefault("offline.api_prefix", cfg.Offline.APIPrefix)
	v.SetDefault("offline.backend_hosts", cfg.Offline.BackendHosts)
	v.SetDefault("offline.placeholder", cfg.Offline.Placeholder)
	v.SetDefault("offline.precache", cfg.Offline.Precache)
	v.SetDefault("storage.driver", cfg.Storage.Driver)
	v.SetDefault("storage.work_dir", cfg.Storage.WorkDir)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("storage.quota_bytes", cfg.Storage.QuotaBytes)
	v.SetDefault("chat.sync_delay", cfg.Chat.SyncDelay)
	v.SetDefault("chat.backup_dir", cfg.Chat.BackupDir)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	// Environment variable overrides, e.g. FITFUSION_SERVER_ORIGIN
	v.SetEnvPrefix("FITFUSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail much later
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "file", "sqlite":
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Offline.CacheVersion) == "" {
		return fmt.Errorf("offline.cache_version is required")
	}
	if !strings.HasPrefix(c.Offline.APIPrefix, "/") {
		return fmt.Errorf("offline.api_prefix must start with /: %q", c.Offline.APIPrefix)
	}
	if c.Chat.SyncDelay < 0 {
		return fmt.Errorf("chat.sync_delay must not be negative")
	}
	return nil
}

// StoragePath returns the configured storage path, or the driver's default
// location under the working directory
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	switch c.Storage.Driver {
	case "sqlite":
		return filepath.Join(c.Storage.WorkDir, "fitfusion.db")
	default:
		return filepath.Join(c.Storage.WorkDir, "data")
	}
}

// EnsureWorkDir creates the working directory if it doesn't exist
func (c *Config) EnsureWorkDir() error {
	return os.MkdirAll(c.Storage.WorkDir, 0755)
}

// ConfigPath returns the path to config file
func (c *Config) ConfigPath() string {
	return filepath.Join(c.Storage.WorkDir, "config.yaml")
}

// Save writes the current config to file
func (c *Config) Save() error {
	if err := c.EnsureWorkDir(); err != nil {
		return err
	}

	// Use a map with explicit keys to preserve snake_case
	configMap := map[string]interface{}{
		"server": map[string]interface{}{
			"addr":             c.Server.Addr,
			"origin":           c.Server.Origin,
			"upstream_timeout": c.Server.UpstreamTimeout.String(),
		},
		"offline": map[string]interface{}{
			"cache_prefix":  c.Offline.CachePrefix,
			"cache_version": c.Offline.CacheVersion,
			"api_prefix":    c.Offline.APIPrefix,
			"backend_hosts": c.Offline.BackendHosts,
			"placeholder":   c.Offline.Placeholder,
			"precache":      c.Offline.Precache,
		},
		"storage": map[string]interface{}{
			"driver":      c.Storage.Driver,
			"work_dir":    c.Storage.WorkDir,
			"path":        c.Storage.Path,
			"quota_bytes": c.Storage.QuotaBytes,
		},
		"chat": map[string]interface{}{
			"sync_delay": c.Chat.SyncDelay.String(),
			"backup_dir": c.Chat.BackupDir,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
		},
	}

	v := viper.New()
	v.SetConfigFile(c.ConfigPath())
	for key, value := range configMap {
		v.Set(key, value)
	}

	return v.WriteConfig()
}

// LoggerConfig converts logging settings to the logger package's form
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  logger.Level(c.Logging.Level),
		Format: logger.Format(c.Logging.Format),
	}
}
