// Package config provides configuration management for dvrstreamd using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort         = 8088
	defaultServerTimeout      = 30 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultBufferCapacity     = 1 << 20 // 1 MiB
	defaultReadMinCount       = 4 << 10 // 4 KiB
	defaultConnectTimeout     = 15 * time.Second
	defaultHTTPTimeout        = 60 * time.Second
	defaultRetryAttempts      = 3
	defaultRetryDelay         = 5 * time.Second
	defaultCircuitBreakerThr  = 5
	defaultCircuitBreakerTO   = 30 * time.Second
	defaultInspectRetryAtmpt  = 3
	defaultStatsSampleCron    = "*/10 * * * * *" // every 10s (6-field cron)
	bufferCapacityGranuleSize = 64 << 10         // 64 KiB
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DVR      DVRConfig      `mapstructure:"dvr"`
	HTTPAPI  HTTPAPIConfig  `mapstructure:"httpapi"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Inspect  InspectConfig  `mapstructure:"inspect"`
	Procstat ProcstatConfig `mapstructure:"procstats"`
}

// ServerConfig holds the debug/inspection HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DVRConfig holds defaults for opening dvrclient streams.
type DVRConfig struct {
	// BufferCapacity is the ring buffer's resident-byte window.
	// Supports human-readable values like "1MiB" or raw byte counts, and is
	// rounded up to the nearest 64KiB granule at stream-open time.
	BufferCapacity ByteSize `mapstructure:"buffer_capacity"`
	// ReadMinCount is the minimum byte count a Read call waits to accumulate
	// before returning, aligned to a 188-byte boundary.
	ReadMinCount ByteSize `mapstructure:"read_min_count"`
	// ConnectTimeout is loaded from configuration; no command passes it to
	// the stream engine or to the HTTP client the stream uses.
	ConnectTimeout Duration `mapstructure:"connect_timeout"`
	UserAgent      string   `mapstructure:"user_agent"`
	// CircuitBreakerThreshold/Timeout govern the "dvr_initial" service profile
	// used for the stream engine's own connection and restarts.
	CircuitBreakerThreshold int      `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   Duration `mapstructure:"circuit_breaker_timeout"`
}

// HTTPAPIConfig holds the debug/inspection HTTP API configuration.
type HTTPAPIConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MetricsConfig holds Prometheus metrics exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// InspectConfig holds configuration for the ad-hoc go-astits diagnostic
// fetches issued by `dvrstreamd inspect`.
type InspectConfig struct {
	RetryAttempts int      `mapstructure:"retry_attempts"`
	Timeout       Duration `mapstructure:"timeout"`
}

// ProcstatConfig holds the process-resource-sampling heartbeat schedule.
type ProcstatConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"` // 6-field cron expression
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with DVRSTREAMD_ and use underscores
// for nesting. Example: DVRSTREAMD_SERVER_PORT=8088.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dvrstreamd")
		v.AddConfigPath("$HOME/.dvrstreamd")
	}

	// Environment variable settings
	v.SetEnvPrefix("DVRSTREAMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// DVR defaults
	v.SetDefault("dvr.buffer_capacity", defaultBufferCapacity)
	v.SetDefault("dvr.read_min_count", defaultReadMinCount)
	v.SetDefault("dvr.connect_timeout", defaultConnectTimeout)
	v.SetDefault("dvr.user_agent", "dvrstreamd/1.0")
	v.SetDefault("dvr.circuit_breaker_threshold", defaultCircuitBreakerThr)
	v.SetDefault("dvr.circuit_breaker_timeout", defaultCircuitBreakerTO)

	// HTTP API defaults
	v.SetDefault("httpapi.enabled", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Inspect defaults
	v.SetDefault("inspect.retry_attempts", defaultInspectRetryAtmpt)
	v.SetDefault("inspect.timeout", defaultHTTPTimeout)

	// Process stats heartbeat defaults
	v.SetDefault("procstats.enabled", true)
	v.SetDefault("procstats.cron", defaultStatsSampleCron)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "trace": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// DVR validation
	if c.DVR.BufferCapacity.Int64() < tsPacketLengthConst {
		return fmt.Errorf("dvr.buffer_capacity must be at least %d bytes", tsPacketLengthConst)
	}
	if c.DVR.ReadMinCount.Int64() < 1 {
		return fmt.Errorf("dvr.read_min_count must be positive")
	}
	if c.DVR.ReadMinCount.Int64() > c.DVR.BufferCapacity.Int64() {
		return fmt.Errorf("dvr.read_min_count must not exceed dvr.buffer_capacity")
	}

	return nil
}

// tsPacketLengthConst mirrors the MPEG-TS packet length, used here as the
// minimum buffer capacity; duplicated here (rather than
// importing internal/dvrclient) to keep config free of a dependency on
// the stream engine package.
const tsPacketLengthConst = 188

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
