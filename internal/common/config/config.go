// Package config provides configuration management for Maestro.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration sections for Maestro.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Data    DataConfig    `mapstructure:"data"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Events  EventsConfig  `mapstructure:"events"`
	Spawn   SpawnConfig   `mapstructure:"spawn"`
	Message MessageConfig `mapstructure:"message"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DataConfig holds the on-disk layout of the JSON-file store (spec §2, §4.1).
type DataConfig struct {
	// Dir is the root directory under which every entity's JSON records live,
	// one subdirectory per entity kind (projects/, tasks/, sessions/, ...).
	Dir string `mapstructure:"dir"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	// Namespace isolates queue-group subscribers across deployments/instances.
	Namespace string `mapstructure:"namespace"`
}

// SpawnConfig holds session-spawn defaults (spec §4.3).
type SpawnConfig struct {
	// MaxActivePerTask is loaded and validated as positive; no component reads
	// it, so the number of active sessions per task is not capped.
	MaxActivePerTask int `mapstructure:"maxActivePerTask"`
	// DefaultTimeoutSeconds bounds how long POST /sessions/spawn waits for
	// the spawn protocol to finish before marking the session failed and
	// returning a timeout error, in seconds.
	DefaultTimeoutSeconds int `mapstructure:"defaultTimeoutSeconds"`
}

// MessageConfig holds inter-session mail configuration (spec §4.7).
type MessageConfig struct {
	// TTLSeconds is the uniform expiry applied to every message (see
	// SPEC_FULL.md §9 Open Question resolution: one configurable TTL, no
	// per-priority overrides).
	TTLSeconds int `mapstructure:"ttlSeconds"`
	// RateLimitPerMinute caps messages a single session may send per minute.
	RateLimitPerMinute int `mapstructure:"rateLimitPerMinute"`
	// SweepIntervalSeconds controls how often the expired-message sweep runs.
	SweepIntervalSeconds int `mapstructure:"sweepIntervalSeconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds OpenTelemetry exporter configuration.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	OTLPEndpoint   string  `mapstructure:"otlpEndpoint"`
	ServiceName    string  `mapstructure:"serviceName"`
	SampleFraction float64 `mapstructure:"sampleFraction"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// DefaultTimeout returns the spawn timeout as a time.Duration.
func (s *SpawnConfig) DefaultTimeout() time.Duration {
	return time.Duration(s.DefaultTimeoutSeconds) * time.Second
}

// TTL returns the message TTL as a time.Duration.
func (m *MessageConfig) TTL() time.Duration {
	return time.Duration(m.TTLSeconds) * time.Second
}

// SweepInterval returns the sweep interval as a time.Duration.
func (m *MessageConfig) SweepInterval() time.Duration {
	return time.Duration(m.SweepIntervalSeconds) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("MAESTRO_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Data defaults
	v.SetDefault("data.dir", "./data")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "maestro-cluster")
	v.SetDefault("nats.clientId", "maestro-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Events defaults
	v.SetDefault("events.namespace", "")

	// Spawn defaults
	v.SetDefault("spawn.maxActivePerTask", 5)
	v.SetDefault("spawn.defaultTimeoutSeconds", 30)

	// Message defaults
	v.SetDefault("message.ttlSeconds", 72*3600) // 72h uniform TTL
	v.SetDefault("message.rateLimitPerMinute", 60)
	v.SetDefault("message.sweepIntervalSeconds", 60)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlpEndpoint", "")
	v.SetDefault("tracing.serviceName", "maestro")
	v.SetDefault("tracing.sampleFraction", 1.0)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix MAESTRO_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/maestro/.
func Load() (*Config, error) {
	cfg, _, err := LoadWithPath("")
	return cfg, err
}

// LoadWithPath reads configuration from the specified path or default locations.
// It returns the live *viper.Viper alongside the parsed Config so callers may
// attach a fsnotify-backed OnConfigChange hook for hot reload.
func LoadWithPath(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("MAESTRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "MAESTRO_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "MAESTRO_EVENTS_NAMESPACE")
	_ = v.BindEnv("data.dir", "MAESTRO_DATA_DIR")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/maestro/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, v, nil
}

// WatchAndReload enables hot-reload: on config file changes, v is re-unmarshaled
// into a fresh Config and passed to onChange. Nothing is applied here: the
// running server keeps the Config it was built with unless onChange applies
// the new values itself.
func WatchAndReload(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		if err := validate(&cfg); err != nil {
			return
		}
		onChange(&cfg)
	})
	v.WatchConfig()
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Data.Dir == "" {
		errs = append(errs, "data.dir must be set")
	}

	if cfg.Spawn.MaxActivePerTask <= 0 {
		errs = append(errs, "spawn.maxActivePerTask must be positive")
	}
	if cfg.Spawn.DefaultTimeoutSeconds <= 0 {
		errs = append(errs, "spawn.defaultTimeoutSeconds must be positive")
	}

	if cfg.Message.TTLSeconds <= 0 {
		errs = append(errs, "message.ttlSeconds must be positive")
	}
	if cfg.Message.RateLimitPerMinute <= 0 {
		errs = append(errs, "message.rateLimitPerMinute must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
