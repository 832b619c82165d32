package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Public     PublicConfig     `yaml:"public"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	PMS        PMSConfig        `yaml:"pms"`
	Tenants    []TenantConfig   `yaml:"tenants"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// APIGRPCConfig configures the ops gRPC endpoint (health and reflection).
type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey binds an API key to exactly one tenant.
type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	TenantID    string   `yaml:"tenant_id"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type PublicConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	WebhookHeader   string        `yaml:"webhook_header"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

const (
	JobsBackendAsynq = "asynq"
	JobsBackendNone  = "none"
)

type JobsConfig struct {
	Backend         string        `yaml:"backend"`
	Concurrency     int           `yaml:"concurrency"`
	Queue           string        `yaml:"queue"`
	MaxRetry        int           `yaml:"max_retry"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	BackoffFactor   float64       `yaml:"backoff_factor"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
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

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	BufferSize int      `yaml:"buffer_size"`
}

type PMSConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	RPS     float64       `yaml:"rps"`
	Timeout time.Duration `yaml:"timeout"`
}

// TenantConfig is the per-tenant policy: capabilities, timezone and scheduling defaults.
type TenantConfig struct {
	ID                   string        `yaml:"id"`
	Name                 string        `yaml:"name"`
	Timezone             string        `yaml:"timezone"`
	Currency             string        `yaml:"currency"`
	Capabilities         []string      `yaml:"capabilities"`
	DefaultHours         HoursConfig   `yaml:"default_hours"`
	SlotStepMinutes      int           `yaml:"slot_step_minutes"`
	ReminderOffsets      []string      `yaml:"reminder_offsets"`
	ReminderChannels     []string      `yaml:"reminder_channels"`
	DepositReminderAfter time.Duration `yaml:"deposit_reminder_after"`
	MaxSeriesOccurrences int           `yaml:"max_series_occurrences"`
	WebhookSecret        string        `yaml:"webhook_secret"`
}

type HoursConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Load reads the YAML config at configPath, expanding ${ENV} references.
// A .env file next to the process is loaded when present.
func Load(configPath string) (*Config, error) {
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
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.Jobs.Backend {
	case JobsBackendAsynq:
		if c.Redis.Address == "" {
			return errors.New("jobs.backend=asynq requires redis.address")
		}
	case JobsBackendNone:
	default:
		return fmt.Errorf("unknown jobs backend %q", c.Jobs.Backend)
	}

	if err := ValidateTenants(c.Tenants); err != nil {
		return err
	}

	tenants := make(map[string]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		tenants[t.ID] = true
	}
	for _, k := range c.API.Auth.APIKeys {
		if k.Key == "" {
			return fmt.Errorf("api key %q has empty key", k.Name)
		}
		if !tenants[k.TenantID] {
			return fmt.Errorf("api key %q references unknown tenant %q", k.Name, k.TenantID)
		}
	}
	return nil
}

func ValidateTenants(tenants []TenantConfig) error {
	ids := make(map[string]bool)
	for _, t := range tenants {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("tenant %q has empty id", t.Name)
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate tenant id found: %s", t.ID)
		}
		ids[t.ID] = true
		if _, err := time.LoadLocation(t.Timezone); err != nil {
			return fmt.Errorf("tenant %s: invalid timezone %q: %w", t.ID, t.Timezone, err)
		}
		for _, raw := range t.ReminderOffsets {
			if _, err := time.ParseDuration(raw); err != nil {
				return fmt.Errorf("tenant %s: invalid reminder offset %q: %w", t.ID, raw, err)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}

	if c.Jobs.Backend == "" {
		c.Jobs.Backend = JobsBackendNone
	}
	if c.Jobs.Concurrency == 0 {
		c.Jobs.Concurrency = 10
	}
	if c.Jobs.Queue == "" {
		c.Jobs.Queue = "default"
	}
	if c.Jobs.MaxRetry == 0 {
		c.Jobs.MaxRetry = 3
	}
	if c.Jobs.InitialDelay == 0 {
		c.Jobs.InitialDelay = 10 * time.Second
	}
	if c.Jobs.MaxDelay == 0 {
		c.Jobs.MaxDelay = 10 * time.Minute
	}
	if c.Jobs.BackoffFactor == 0 {
		c.Jobs.BackoffFactor = 2
	}
	if c.Jobs.ShutdownTimeout == 0 {
		c.Jobs.ShutdownTimeout = 10 * time.Second
	}

	if c.Public.RateLimit == 0 {
		c.Public.RateLimit = 30
	}
	if c.Public.RateLimitWindow == 0 {
		c.Public.RateLimitWindow = time.Minute
	}
	if c.Public.CacheTTL == 0 {
		c.Public.CacheTTL = 5 * time.Minute
	}
	if c.Public.WebhookHeader == "" {
		c.Public.WebhookHeader = "x-webhook-secret"
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "reserva.appointments"
	}
	if c.Kafka.BufferSize == 0 {
		c.Kafka.BufferSize = 256
	}

	if c.PMS.RPS == 0 {
		c.PMS.RPS = 5
	}
	if c.PMS.Timeout == 0 {
		c.PMS.Timeout = 10 * time.Second
	}

	for i := range c.Tenants {
		t := &c.Tenants[i]
		if t.Timezone == "" {
			t.Timezone = "UTC"
		}
		if t.Currency == "" {
			t.Currency = "USD"
		}
		if t.DefaultHours.Start == "" {
			t.DefaultHours.Start = "09:00"
		}
		if t.DefaultHours.End == "" {
			t.DefaultHours.End = "17:00"
		}
		if t.SlotStepMinutes == 0 {
			t.SlotStepMinutes = 15
		}
		if t.MaxSeriesOccurrences == 0 {
			t.MaxSeriesOccurrences = 104
		}
		if t.DepositReminderAfter == 0 {
			t.DepositReminderAfter = 48 * time.Hour
		}
	}
}
