// Package models - Service configuration and operational settings.
// This file defines configuration structures for all service components.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, storage, security, etc.)
// - Environment-friendly defaults that work out of the box
// - Validation to catch misconfigurations early
package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Storage       StorageConfig       `yaml:"storage" json:"storage"`             // Data persistence settings
	Security      SecurityConfig      `yaml:"security" json:"security"`           // Admin access and API key budgets
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`       // Token bucket throttles
	Comments      CommentsConfig      `yaml:"comments" json:"comments"`           // Public comment intake
	Media         MediaConfig         `yaml:"media" json:"media"`                 // Uploaded file serving
	Tasks         TasksConfig         `yaml:"tasks" json:"tasks"`                 // Background side effects
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Cache         CacheConfig         `yaml:"cache" json:"cache"`                 // Shared key-value store
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate" json:"auto_migrate"`
}

type SecurityConfig struct {
	// AdminTokens authorise the /api/v1/admin endpoints. An entry of the form
	// "name:token" names the principal recorded on keys it creates; a bare
	// token acts as DefaultAdminName.
	AdminTokens []string `yaml:"admin_tokens" json:"-"`
	// BootstrapKey, when set, is seeded into storage as an API key holding every permission.
	BootstrapKey string       `yaml:"bootstrap_key" json:"-"`
	APIKeyLimits APIKeyLimits `yaml:"api_key_limits" json:"api_key_limits"`
}

// APIKeyLimits are the three independent budgets of the API key authenticator.
type APIKeyLimits struct {
	Attempt RateLimitPolicy `yaml:"attempt" json:"attempt"`
	Invalid RateLimitPolicy `yaml:"invalid" json:"invalid"`
	Usage   RateLimitPolicy `yaml:"usage" json:"usage"`
}

// RateLimitPolicy is max operations per window, refilled continuously.
type RateLimitPolicy struct {
	Window time.Duration `yaml:"window" json:"window"`
	Max    int           `yaml:"max" json:"max"`
}

func (p RateLimitPolicy) Validate() error {
	if p.Window <= 0 {
		return errors.New("window must be positive")
	}
	if p.Max <= 0 {
		return errors.New("max must be positive")
	}
	return nil
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Store selects where buckets live: memory (per process) or redis (shared).
	Store string `yaml:"store" json:"store"`
	// HighWaterMark is the bucket count above which idle buckets are swept.
	HighWaterMark int `yaml:"high_water_mark" json:"high_water_mark"`
	// SweepSchedule is a cron expression for the periodic idle-bucket sweep.
	SweepSchedule string          `yaml:"sweep_schedule" json:"sweep_schedule"`
	Comment       RateLimitPolicy `yaml:"comment" json:"comment"`
	View          RateLimitPolicy `yaml:"view" json:"view"`
	MediaGet      RateLimitPolicy `yaml:"media_get" json:"media_get"`
	MediaHead     RateLimitPolicy `yaml:"media_head" json:"media_head"`
}

type CommentsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// ModerationRequired holds new comments as PENDING until approved.
	ModerationRequired bool `yaml:"moderation_required" json:"moderation_required"`
}

type MediaConfig struct {
	// Dir is the directory served under /media. Empty disables the route.
	Dir string `yaml:"dir" json:"dir"`
	// CacheControl is sent with every served file.
	CacheControl string `yaml:"cache_control" json:"cache_control"`
}

type TasksConfig struct {
	Workers       int           `yaml:"workers" json:"workers"`
	QueueSize     int           `yaml:"queue_size" json:"queue_size"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second" json:"rate_per_second"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
//
// The rate limit policies mirror the budgets the blog has always used:
// comments and page views at 30 per five minutes, media reads at 240 GET and
// 600 HEAD per minute, and the API key budgets at 180 attempts per minute,
// 60 invalid credentials per five minutes and 120 calls per key per minute.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
				AutoMigrate:     true,
			},
		},
		Security: SecurityConfig{
			AdminTokens: []string{},
			APIKeyLimits: APIKeyLimits{
				Attempt: RateLimitPolicy{Window: time.Minute, Max: 180},
				Invalid: RateLimitPolicy{Window: 5 * time.Minute, Max: 60},
				Usage:   RateLimitPolicy{Window: time.Minute, Max: 120},
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Store:         RateLimitStoreMemory,
			HighWaterMark: 10000,
			SweepSchedule: "@every 1m",
			Comment:       RateLimitPolicy{Window: 5 * time.Minute, Max: 30},
			View:          RateLimitPolicy{Window: 5 * time.Minute, Max: 30},
			MediaGet:      RateLimitPolicy{Window: time.Minute, Max: 240},
			MediaHead:     RateLimitPolicy{Window: time.Minute, Max: 600},
		},
		Comments: CommentsConfig{
			Enabled: true,
		},
		Media: MediaConfig{
			CacheControl: "public, max-age=31536000, immutable",
		},
		Tasks: TasksConfig{
			Workers:       2,
			QueueSize:     256,
			Timeout:       5 * time.Second,
			RatePerSecond: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cache: CacheConfig{
			Redis: RedisConfig{
				PoolSize:  10,
				KeyPrefix: "inkpost:rl:",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "inkpost",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if c.RateLimit.Enabled && c.RateLimit.Store == RateLimitStoreRedis && c.Cache.Redis.Addr == "" {
		return errors.New("invalid cache config: redis address is required when rate_limit.store is redis")
	}

	if err := c.Tasks.Validate(); err != nil {
		return fmt.Errorf("invalid tasks config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
		return nil
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
}

// DefaultAdminName is the principal of an admin token configured without a name.
const DefaultAdminName = "admin"

var adminNamePattern = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,64}$`)

// AdminToken is a parsed admin_tokens entry.
type AdminToken struct {
	Name  string
	Token string
}

// ParseAdminToken splits an admin_tokens entry into principal name and secret.
func ParseAdminToken(entry string) AdminToken {
	if name, token, ok := strings.Cut(entry, ":"); ok && adminNamePattern.MatchString(name) {
		return AdminToken{Name: name, Token: token}
	}
	return AdminToken{Name: DefaultAdminName, Token: entry}
}

func (sec *SecurityConfig) Validate() error {
	for i, entry := range sec.AdminTokens {
		if tok := ParseAdminToken(entry).Token; len(tok) < 16 {
			return fmt.Errorf("admin token %d must be at least 16 characters", i)
		}
	}

	if sec.BootstrapKey != "" && len(sec.BootstrapKey) <= len(APIKeyMarker) {
		return fmt.Errorf("bootstrap key must start with %q followed by a secret", APIKeyMarker)
	}
	if sec.BootstrapKey != "" && sec.BootstrapKey[:len(APIKeyMarker)] != APIKeyMarker {
		return fmt.Errorf("bootstrap key must start with %q", APIKeyMarker)
	}

	for name, p := range map[string]RateLimitPolicy{
		"attempt": sec.APIKeyLimits.Attempt,
		"invalid": sec.APIKeyLimits.Invalid,
		"usage":   sec.APIKeyLimits.Usage,
	} {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("api key %s limit: %w", name, err)
		}
	}

	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}

	switch rc.Store {
	case RateLimitStoreMemory, RateLimitStoreRedis:
	default:
		return fmt.Errorf("invalid rate limit store: %s", rc.Store)
	}

	if rc.HighWaterMark <= 0 {
		return errors.New("high water mark must be positive")
	}

	for name, p := range map[string]RateLimitPolicy{
		"comment":    rc.Comment,
		"view":       rc.View,
		"media_get":  rc.MediaGet,
		"media_head": rc.MediaHead,
	} {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s policy: %w", name, err)
		}
	}

	return nil
}

func (tc *TasksConfig) Validate() error {
	if tc.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if tc.QueueSize <= 0 {
		return errors.New("queue size must be positive")
	}
	if tc.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if tc.RatePerSecond < 0 {
		return errors.New("rate per second cannot be negative")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	switch lc.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}
