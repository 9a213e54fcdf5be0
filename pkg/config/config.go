package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the sync server configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout bounds non-sync routes. Sync triggers run until the pipeline finishes.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig contains database connection settings. With Enabled false the sync server keeps
// its state and records in process memory and the connection settings are ignored.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database" validate:"required"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path"`
}

// UpstreamConfig contains the open data portal client settings
type UpstreamConfig struct {
	BaseURL    string        `mapstructure:"base_url" validate:"required,url"`
	Endpoint   string        `mapstructure:"endpoint" validate:"required"`
	ServiceKey string        `mapstructure:"service_key" validate:"required"`
	Format     string        `mapstructure:"format" validate:"oneof=json xml"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent  string        `mapstructure:"user_agent"`
	MaxBody    int64         `mapstructure:"max_body_bytes"`
	Retry      RetryConfig   `mapstructure:"retry"`
}

// RetryConfig contains the backoff policy for upstream requests
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts" validate:"min=1"`
	InitialDelay  time.Duration `mapstructure:"initial_delay" validate:"gt=0"`
	MaxDelay      time.Duration `mapstructure:"max_delay" validate:"gtefield=InitialDelay"`
	BackoffFactor float64       `mapstructure:"backoff_factor" validate:"gte=1"`
}

// SyncConfig contains pipeline tuning for the configured data source
type SyncConfig struct {
	Source      string        `mapstructure:"source" validate:"required"`
	PageSize    int           `mapstructure:"page_size" validate:"min=1,max=1000"`
	MaxPages    int           `mapstructure:"max_pages" validate:"min=1"`
	BatchSize   int           `mapstructure:"batch_size" validate:"min=1"`
	PageRetries int           `mapstructure:"page_retries" validate:"min=0,max=10"`
	StaleAfter  time.Duration `mapstructure:"stale_after"`
}

// SchedulerConfig contains the cron trigger settings
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	Timezone string `mapstructure:"timezone"`
}

// NotifyConfig contains Slack notification settings. An empty webhook URL disables notifications.
type NotifyConfig struct {
	SlackWebhookURL string        `mapstructure:"slack_webhook_url" validate:"omitempty,url"`
	Username        string        `mapstructure:"username"`
	IconEmoji       string        `mapstructure:"icon_emoji"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxInFlight     int64         `mapstructure:"max_in_flight" validate:"min=1"`
}

// WebhookConfig contains the shared secret that guards webhook triggers
type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// envBindings maps config keys to the environment variables operators already use.
var envBindings = map[string]string{
	"upstream.service_key":     "DATA_GO_KR_SERVICE_KEY",
	"notify.slack_webhook_url": "SLACK_WEBHOOK_URL",
	"webhook.secret":           "WEBHOOK_SECRET",
	"scheduler.schedule":       "SYNC_SCHEDULE",
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config, err := read(configPath)
	if err != nil {
		return nil, err
	}
	if err := validate(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// LoadDatabase loads the same file as Load but validates only the database section, for tools such
// as the migrator that never reach the upstream API.
func LoadDatabase(configPath string) (*DatabaseConfig, error) {
	config, err := read(configPath)
	if err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&config.Database); err != nil {
		return nil, fmt.Errorf("database config validation failed: %w", err)
	}
	return &config.Database, nil
}

func read(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "60s")

	// Database defaults
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.database", "bizsync")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")

	// Upstream defaults
	v.SetDefault("upstream.base_url", "https://apis.data.go.kr/B553077/api/open/sdsc2")
	v.SetDefault("upstream.endpoint", "/storeListInDate")
	v.SetDefault("upstream.format", "json")
	v.SetDefault("upstream.timeout", "15s")
	v.SetDefault("upstream.user_agent", "registry-sync/1.0")
	v.SetDefault("upstream.max_body_bytes", 32<<20)
	v.SetDefault("upstream.retry.max_attempts", 3)
	v.SetDefault("upstream.retry.initial_delay", "1s")
	v.SetDefault("upstream.retry.max_delay", "30s")
	v.SetDefault("upstream.retry.backoff_factor", 2)

	// Sync defaults
	v.SetDefault("sync.source", "public-data-portal")
	v.SetDefault("sync.page_size", 1000)
	v.SetDefault("sync.max_pages", 100)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.page_retries", 2)
	v.SetDefault("sync.stale_after", "6h")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.schedule", "0 2 * * *")
	v.SetDefault("scheduler.timezone", "Asia/Seoul")

	// Notification defaults
	v.SetDefault("notify.username", "Business Sync Bot")
	v.SetDefault("notify.icon_emoji", ":office:")
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.max_in_flight", 8)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
}

func validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}
	if config.Scheduler.Enabled && config.Scheduler.Schedule == "" {
		return fmt.Errorf("scheduler.schedule is required when the scheduler is enabled")
	}
	if config.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(config.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
