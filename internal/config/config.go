package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"inkpost/internal/models"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INKPOST_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// unsupportedConfig mirrors keys that operators commonly carry over from
// older deployments but which this service does not read.
type unsupportedConfig struct {
	Security struct {
		EnableAuth *bool       `yaml:"enable_auth"`
		APIKeys    interface{} `yaml:"api_keys"`
		RateLimit  interface{} `yaml:"rate_limit"`
	} `yaml:"security"`
	Server struct {
		CORS interface{} `yaml:"cors"`
	} `yaml:"server"`
}

// warnUnsupportedKeys logs a warning for each ignored key found in the YAML data.
func warnUnsupportedKeys(data []byte) {
	var dep unsupportedConfig
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return
	}
	if dep.Security.EnableAuth != nil {
		slog.Warn("Config key is ignored; API key authentication is always enforced on protected routes.", "config_key", "security.enable_auth")
	}
	if dep.Security.APIKeys != nil {
		slog.Warn("Config key is ignored; API keys live in storage. Use security.bootstrap_key to seed one.", "config_key", "security.api_keys")
	}
	if dep.Security.RateLimit != nil {
		slog.Warn("Config key is ignored; use rate_limit and security.api_key_limits instead.", "config_key", "security.rate_limit")
	}
	if dep.Server.CORS != nil {
		slog.Warn("Config key is not supported; configure CORS at your reverse proxy.", "config_key", "server.cors")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnUnsupportedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func envString(name string, dst *string) {
	if v := env(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := env(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			slog.Warn("Ignoring invalid integer environment variable", "name", EnvPrefix+name)
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := env(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		} else {
			slog.Warn("Ignoring invalid number environment variable", "name", EnvPrefix+name)
		}
	}
}

func envBool(name string, dst *bool) {
	if v := env(name); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := env(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			slog.Warn("Ignoring invalid duration environment variable", "name", EnvPrefix+name)
		}
	}
}

// envPolicy reads NAME_WINDOW and NAME_MAX into p.
func envPolicy(name string, p *models.RateLimitPolicy) {
	envDuration(name+"_WINDOW", &p.Window)
	envInt(name+"_MAX", &p.Max)
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// Storage configuration
	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)
	envDuration("DATABASE_CONN_MAX_LIFETIME", &config.Storage.Database.ConnMaxLifetime)
	envBool("DATABASE_AUTO_MIGRATE", &config.Storage.Database.AutoMigrate)

	// Security configuration
	if tokens := env("ADMIN_TOKENS"); tokens != "" {
		config.Security.AdminTokens = splitList(tokens)
	}
	envString("BOOTSTRAP_KEY", &config.Security.BootstrapKey)
	envPolicy("API_KEY_ATTEMPT", &config.Security.APIKeyLimits.Attempt)
	envPolicy("API_KEY_INVALID", &config.Security.APIKeyLimits.Invalid)
	envPolicy("API_KEY_USAGE", &config.Security.APIKeyLimits.Usage)

	// Rate limit configuration
	envBool("RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	envString("RATE_LIMIT_STORE", &config.RateLimit.Store)
	envInt("RATE_LIMIT_HIGH_WATER_MARK", &config.RateLimit.HighWaterMark)
	envString("RATE_LIMIT_SWEEP_SCHEDULE", &config.RateLimit.SweepSchedule)
	envPolicy("RATE_LIMIT_COMMENT", &config.RateLimit.Comment)
	envPolicy("RATE_LIMIT_VIEW", &config.RateLimit.View)
	envPolicy("RATE_LIMIT_MEDIA_GET", &config.RateLimit.MediaGet)
	envPolicy("RATE_LIMIT_MEDIA_HEAD", &config.RateLimit.MediaHead)

	// Comments and media
	envBool("COMMENTS_ENABLED", &config.Comments.Enabled)
	envBool("COMMENTS_MODERATION_REQUIRED", &config.Comments.ModerationRequired)
	envString("MEDIA_DIR", &config.Media.Dir)
	envString("MEDIA_CACHE_CONTROL", &config.Media.CacheControl)

	// Background tasks
	envInt("TASKS_WORKERS", &config.Tasks.Workers)
	envInt("TASKS_QUEUE_SIZE", &config.Tasks.QueueSize)
	envDuration("TASKS_TIMEOUT", &config.Tasks.Timeout)
	envFloat("TASKS_RATE_PER_SECOND", &config.Tasks.RatePerSecond)

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Redis configuration
	envString("REDIS_ADDR", &config.Cache.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Cache.Redis.Password)
	envInt("REDIS_DB", &config.Cache.Redis.DB)
	envInt("REDIS_POOL_SIZE", &config.Cache.Redis.PoolSize)
	envString("REDIS_KEY_PREFIX", &config.Cache.Redis.KeyPrefix)

	// Metrics configuration
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)

	// Tracing
	envString("SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	envFloat("TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Get default config with some example values
	config := models.NewDefaultConfig()
	config.Security.AdminTokens = []string{"ops:change-me-to-a-long-random-admin-token"}
	config.Security.BootstrapKey = models.APIKeyMarker + "your-bootstrap-key-here"

	config.Storage.Type = models.StorageTypeSQLite
	config.Storage.Database.DSN = "file:./data/inkpost.db"

	// Example TLS configuration
	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	config.Cache.Redis.Addr = "localhost:6379"
	config.Media.Dir = "./data/uploads"

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
