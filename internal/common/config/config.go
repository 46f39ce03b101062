// Package config provides configuration management for portal.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Failure policies for the submission queue.
const (
	FailurePolicyContinue = "continue"
	FailurePolicyAbort    = "abort"
)

// Config holds all configuration sections for portal.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`
	Chat     ChatConfig     `mapstructure:"chat" yaml:"chat"`
	Mention  MentionConfig  `mapstructure:"mention" yaml:"mention"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	NATS     NATSConfig     `mapstructure:"nats" yaml:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout" yaml:"readTimeout"`   // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout" yaml:"writeTimeout"` // in seconds
	// StaticDir, when set, is served at / (the built browser UI).
	StaticDir string `mapstructure:"staticDir" yaml:"staticDir"`
}

// UpstreamConfig points at the OpenCode server the proxy forwards to.
type UpstreamConfig struct {
	URL            string `mapstructure:"url" yaml:"url"`
	Directory      string `mapstructure:"directory" yaml:"directory"`
	Password       string `mapstructure:"password" yaml:"-"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds" yaml:"timeoutSeconds"`
	// LiveEvents subscribes to the upstream SSE stream and refreshes open sessions.
	LiveEvents bool `mapstructure:"liveEvents" yaml:"liveEvents"`
}

// ChatConfig tunes the submission queue.
type ChatConfig struct {
	FailurePolicy          string `mapstructure:"failurePolicy" yaml:"failurePolicy"`
	DispatchTimeoutSeconds int    `mapstructure:"dispatchTimeoutSeconds" yaml:"dispatchTimeoutSeconds"`
}

// MentionConfig tunes @file search.
type MentionConfig struct {
	DebounceMs          int      `mapstructure:"debounceMs" yaml:"debounceMs"`
	MaxResults          int      `mapstructure:"maxResults" yaml:"maxResults"`
	Excludes            []string `mapstructure:"excludes" yaml:"excludes"`
	SearchRatePerSecond float64  `mapstructure:"searchRatePerSecond" yaml:"searchRatePerSecond"`
}

// DatabaseConfig holds settings database configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path" yaml:"path"`
	DSN      string `mapstructure:"dsn" yaml:"-"`
	MaxConns int    `mapstructure:"maxConns" yaml:"maxConns"`
	MinConns int    `mapstructure:"minConns" yaml:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	ClientID      string `mapstructure:"clientId" yaml:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects" yaml:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	OutputPath string `mapstructure:"outputPath" yaml:"outputPath"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// TracingConfig configures OTLP span export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string  `mapstructure:"serviceName" yaml:"serviceName"`
	SampleRatio float64 `mapstructure:"sampleRatio" yaml:"sampleRatio"`
}

// Addr returns the listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Timeout returns the upstream request timeout.
func (u *UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// DispatchTimeout returns how long a single prompt dispatch may take.
func (c *ChatConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSeconds) * time.Second
}

// Debounce returns the mention search debounce window.
func (m *MentionConfig) Debounce() time.Duration {
	return time.Duration(m.DebounceMs) * time.Millisecond
}

// detectDefaultLogFormat returns "json" in production environments and "text" otherwise.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("PORTAL_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3030)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0) // prompts are long-lived
	v.SetDefault("server.staticDir", "")

	v.SetDefault("upstream.url", "http://127.0.0.1:4096")
	v.SetDefault("upstream.directory", "")
	v.SetDefault("upstream.password", "")
	v.SetDefault("upstream.timeoutSeconds", 30)
	v.SetDefault("upstream.liveEvents", true)

	v.SetDefault("chat.failurePolicy", FailurePolicyContinue)
	v.SetDefault("chat.dispatchTimeoutSeconds", 3600)

	v.SetDefault("mention.debounceMs", 150)
	v.SetDefault("mention.maxResults", 20)
	v.SetDefault("mention.excludes", []string{"**/node_modules/**", "**/.git/**"})
	v.SetDefault("mention.searchRatePerSecond", 10.0)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./portal.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// empty URL means in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "portal")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.serviceName", "portal")
	v.SetDefault("tracing.sampleRatio", 1.0)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix PORTAL_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/portal/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	// A missing .env is the common case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not map camelCase keys to SNAKE_CASE env vars.
	_ = v.BindEnv("upstream.url", "PORTAL_UPSTREAM_URL", "OPENCODE_SERVER_URL")
	_ = v.BindEnv("upstream.password", "PORTAL_UPSTREAM_PASSWORD", "OPENCODE_SERVER_PASSWORD")
	_ = v.BindEnv("upstream.liveEvents", "PORTAL_UPSTREAM_LIVE_EVENTS")
	_ = v.BindEnv("upstream.timeoutSeconds", "PORTAL_UPSTREAM_TIMEOUT_SECONDS")
	_ = v.BindEnv("chat.failurePolicy", "PORTAL_CHAT_FAILURE_POLICY")
	_ = v.BindEnv("chat.dispatchTimeoutSeconds", "PORTAL_CHAT_DISPATCH_TIMEOUT_SECONDS")
	_ = v.BindEnv("mention.debounceMs", "PORTAL_MENTION_DEBOUNCE_MS")
	_ = v.BindEnv("mention.maxResults", "PORTAL_MENTION_MAX_RESULTS")
	_ = v.BindEnv("server.staticDir", "PORTAL_SERVER_STATIC_DIR")
	_ = v.BindEnv("database.path", "PORTAL_DB_PATH")
	_ = v.BindEnv("database.driver", "PORTAL_DB_DRIVER")
	_ = v.BindEnv("database.dsn", "PORTAL_DB_DSN")
	_ = v.BindEnv("tracing.endpoint", "PORTAL_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("tracing.serviceName", "PORTAL_TRACING_SERVICE_NAME", "OTEL_SERVICE_NAME")
	_ = v.BindEnv("tracing.sampleRatio", "PORTAL_TRACING_SAMPLE_RATIO")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/portal/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if strings.TrimSpace(cfg.Upstream.URL) == "" {
		errs = append(errs, "upstream.url is required")
	}
	if cfg.Upstream.TimeoutSeconds <= 0 {
		errs = append(errs, "upstream.timeoutSeconds must be positive")
	}

	cfg.Chat.FailurePolicy = strings.ToLower(strings.TrimSpace(cfg.Chat.FailurePolicy))
	if cfg.Chat.FailurePolicy != FailurePolicyContinue && cfg.Chat.FailurePolicy != FailurePolicyAbort {
		errs = append(errs, "chat.failurePolicy must be one of: continue, abort")
	}
	if cfg.Chat.DispatchTimeoutSeconds <= 0 {
		errs = append(errs, "chat.dispatchTimeoutSeconds must be positive")
	}

	if cfg.Mention.DebounceMs < 0 {
		errs = append(errs, "mention.debounceMs must not be negative")
	}
	if cfg.Mention.MaxResults <= 0 {
		errs = append(errs, "mention.maxResults must be positive")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for postgres")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sampleRatio must be between 0 and 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
