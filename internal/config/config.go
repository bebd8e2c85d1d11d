package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gymtrack/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig              `yaml:"app"`
	Storage      StorageConfig          `yaml:"storage"`
	Redis        RedisConfig            `yaml:"redis"`
	Queue        QueueConfig            `yaml:"queue"`
	Connectivity ConnectivityConfig     `yaml:"connectivity"`
	Backup       BackupConfig           `yaml:"backup"`
	Monitoring   MonitoringConfig       `yaml:"monitoring"`
	Logging      LoggingConfig          `yaml:"logging"`
	API          APIConfig              `yaml:"api"`
	Exports      ExportConfig           `yaml:"exports"`
	Pricing      models.PricingSettings `yaml:"pricing"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
	// RecoveryInterval is how long a failed tier is bypassed before it is probed again.
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type QueueConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	ReplayTimeout time.Duration `yaml:"replay_timeout"`
	ReplayRPS     float64       `yaml:"replay_rps"`
}

type ConnectivityConfig struct {
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	// StartOnline is the assumed state before the first signal or probe.
	StartOnline bool `yaml:"start_online"`
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
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

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
	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}
	if c.Queue.MaxAttempts < 0 {
		return errors.New("queue.max_attempts must not be negative")
	}
	if c.Queue.BackoffFactor < 0 {
		return errors.New("queue.backoff_factor must not be negative")
	}
	if c.Queue.MaxDelay > 0 && c.Queue.InitialDelay > c.Queue.MaxDelay {
		return fmt.Errorf("queue.initial_delay %s exceeds queue.max_delay %s", c.Queue.InitialDelay, c.Queue.MaxDelay)
	}
	if c.API.Enabled && c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth is enabled but no api keys are configured")
	}
	return ValidatePricing(c.Pricing)
}

func ValidatePricing(p models.PricingSettings) error {
	prices := map[string]float64{
		"single_session": p.SingleSession,
		"sessions_13":    p.Sessions13,
		"sessions_15":    p.Sessions15,
		"sessions_30":    p.Sessions30,
	}
	for name, v := range prices {
		if v < 0 {
			return fmt.Errorf("pricing.%s must not be negative", name)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "gymtrack"
	}
	if c.Storage.RecoveryInterval == 0 {
		c.Storage.RecoveryInterval = time.Minute
	}
	if c.Queue.ReplayTimeout == 0 {
		c.Queue.ReplayTimeout = 30 * time.Second
	}
	if c.Queue.InitialDelay > 0 {
		if c.Queue.MaxDelay == 0 {
			c.Queue.MaxDelay = 5 * time.Minute
		}
		if c.Queue.BackoffFactor == 0 {
			c.Queue.BackoffFactor = 2
		}
	}
	if c.Connectivity.ProbeURL != "" {
		if c.Connectivity.ProbeInterval == 0 {
			c.Connectivity.ProbeInterval = 15 * time.Second
		}
		if c.Connectivity.ProbeTimeout == 0 {
			c.Connectivity.ProbeTimeout = 5 * time.Second
		}
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	c.Pricing = c.Pricing.WithDefaults()
}
