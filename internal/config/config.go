package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"checkinsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Network    NetworkConfig    `yaml:"network"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	// EventsChannel receives sync status and outcome events when set.
	EventsChannel string `yaml:"events_channel"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// RemoteConfig points at the authoritative check-in service.
type RemoteConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	StateCacheTTL   time.Duration `yaml:"state_cache_ttl"`
	PreflightLookup bool          `yaml:"preflight_lookup"`
}

type SyncConfig struct {
	Interval       time.Duration `yaml:"interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	SubmitDelay    time.Duration `yaml:"submit_delay"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	LockKey        string        `yaml:"lock_key"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	SyncOnEnqueue  *bool         `yaml:"sync_on_enqueue"`
}

type NetworkConfig struct {
	// ProbeURL defaults to <remote.base_url>/health.
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	AssumeOnline  bool          `yaml:"assume_online"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return fmt.Errorf("remote base_url must be http(s): %s", c.Remote.BaseURL)
	}

	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync max_attempts must be >= 1, got %d", c.Sync.MaxAttempts)
	}
	if c.Sync.Interval <= 0 {
		return errors.New("sync interval must be positive")
	}
	if c.Sync.SubmitDelay < 0 {
		return errors.New("sync submit_delay must not be negative")
	}

	if c.Backup.Enabled && c.Backup.StoragePath == "" {
		return errors.New("backup storage_path is required when backup is enabled")
	}

	return nil
}

// SyncOnEnqueueEnabled reports whether an enqueue should kick off a pass.
func (c SyncConfig) SyncOnEnqueueEnabled() bool {
	return c.SyncOnEnqueue == nil || *c.SyncOnEnqueue
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "checkinsync"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	c.Remote.BaseURL = strings.TrimRight(c.Remote.BaseURL, "/")
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 10 * time.Second
	}
	if c.Remote.StateCacheTTL == 0 {
		c.Remote.StateCacheTTL = models.DefaultStateCacheTTL
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = models.DefaultSyncInterval
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Sync.SubmitDelay == 0 {
		c.Sync.SubmitDelay = models.DefaultSubmitDelay
	}
	if c.Sync.LockKey == "" {
		c.Sync.LockKey = "checkinsync:sync_lock"
	}
	if c.Sync.LockTTL == 0 {
		c.Sync.LockTTL = models.DefaultLockTTL
	}

	// Network defaults
	if c.Network.ProbeURL == "" && c.Remote.BaseURL != "" {
		c.Network.ProbeURL = c.Remote.BaseURL + "/health"
	}
	if c.Network.ProbeInterval == 0 {
		c.Network.ProbeInterval = models.DefaultProbeInterval
	}
	if c.Network.ProbeTimeout == 0 {
		c.Network.ProbeTimeout = 3 * time.Second
	}
}
