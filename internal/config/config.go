// Package config defines the elsewhere configuration schema and loads it
// via viper from defaults, the config file, and ELSEWHERE_* environment
// variables (in increasing precedence).
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/elsewhere-cli/elsewhere/internal/region"
)

// Config represents the complete elsewhere configuration.
type Config struct {
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Paths    PathsConfig    `mapstructure:"paths"`
}

// DefaultsConfig holds operator preferences applied when the
// corresponding start flag is omitted.
type DefaultsConfig struct {
	// Region is the default AWS region for new sessions. Empty means
	// the operator must pass --region.
	Region string `mapstructure:"region"`
	// Port is the default local SOCKS port.
	Port int `mapstructure:"port"`
	// InstanceType overrides the region's default instance type when set.
	InstanceType string `mapstructure:"instance_type"`
	// SystemProxy controls whether start configures the OS proxy.
	SystemProxy bool `mapstructure:"system_proxy"`
}

// RetryConfig bounds the retry policy for transient provider errors.
type RetryConfig struct {
	// Attempts is the total number of tries per provider call.
	Attempts int `mapstructure:"attempts"`
	// Delay is the initial backoff delay; it doubles per attempt.
	Delay time.Duration `mapstructure:"delay"`
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// TimeoutsConfig bounds every wait in the lifecycle. No lifecycle step
// may block past its bound.
type TimeoutsConfig struct {
	// InstanceReady is the window for a launched instance to reach
	// running state with a reachable SSH port.
	InstanceReady time.Duration `mapstructure:"instance_ready"`
	// TunnelReady is the window for the local forwarding endpoint to
	// start listening after the tunnel process is spawned.
	TunnelReady time.Duration `mapstructure:"tunnel_ready"`
	// ProviderCall is the per-call timeout for provider API requests.
	ProviderCall time.Duration `mapstructure:"provider_call"`
}

// LoggingConfig controls diagnostic output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// PathsConfig controls where elsewhere keeps durable state.
type PathsConfig struct {
	// StateDir holds the session record and key material.
	// Defaults to ~/.elsewhere.
	StateDir string `mapstructure:"state_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			Region:      "",
			Port:        1080,
			SystemProxy: true,
		},
		Retry: RetryConfig{
			Attempts: 3,
			Delay:    2 * time.Second,
			MaxDelay: 30 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			InstanceReady: 2 * time.Minute,
			TunnelReady:   30 * time.Second,
			ProviderCall:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Paths: PathsConfig{
			StateDir: defaultStateDir(),
		},
	}
}

// SetDefaults registers every configuration key with viper so values
// resolve even without a config file.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("defaults.region", defaults.Defaults.Region)
	viper.SetDefault("defaults.port", defaults.Defaults.Port)
	viper.SetDefault("defaults.instance_type", defaults.Defaults.InstanceType)
	viper.SetDefault("defaults.system_proxy", defaults.Defaults.SystemProxy)

	viper.SetDefault("retry.attempts", defaults.Retry.Attempts)
	viper.SetDefault("retry.delay", defaults.Retry.Delay)
	viper.SetDefault("retry.max_delay", defaults.Retry.MaxDelay)

	viper.SetDefault("timeouts.instance_ready", defaults.Timeouts.InstanceReady)
	viper.SetDefault("timeouts.tunnel_ready", defaults.Timeouts.TunnelReady)
	viper.SetDefault("timeouts.provider_call", defaults.Timeouts.ProviderCall)

	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)
}

// Load unmarshals and validates the current viper state.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// Validate checks the configuration for values the lifecycle cannot
// operate with.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Defaults.Region != "" && !region.Valid(c.Defaults.Region) {
		errs = append(errs, ValidationError{
			Field:   "defaults.region",
			Value:   c.Defaults.Region,
			Message: "unknown region (see 'elsewhere regions')",
		})
	}
	if c.Defaults.Port < 1 || c.Defaults.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "defaults.port",
			Value:   c.Defaults.Port,
			Message: "port must be between 1 and 65535",
		})
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "retry.attempts",
			Value:   c.Retry.Attempts,
			Message: "at least one attempt is required",
		})
	}
	if c.Retry.Delay <= 0 {
		errs = append(errs, ValidationError{
			Field:   "retry.delay",
			Value:   c.Retry.Delay,
			Message: "delay must be positive",
		})
	}
	if c.Timeouts.InstanceReady <= 0 {
		errs = append(errs, ValidationError{
			Field:   "timeouts.instance_ready",
			Value:   c.Timeouts.InstanceReady,
			Message: "readiness window must be positive",
		})
	}
	if c.Timeouts.TunnelReady <= 0 {
		errs = append(errs, ValidationError{
			Field:   "timeouts.tunnel_ready",
			Value:   c.Timeouts.TunnelReady,
			Message: "readiness window must be positive",
		})
	}
	if !isValidLogLevel(c.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: "level must be one of debug, info, warn, error",
		})
	}

	return errs
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "elsewhere")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".elsewhere"
	}
	return filepath.Join(home, ".config", "elsewhere")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".elsewhere"
	}
	return filepath.Join(home, ".elsewhere")
}
