// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// defaultDataDir returns the default directory for session and rule data.
// Uses ~/.autoflow/ so data is in a fixed location regardless of CWD.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./store"
	}
	return filepath.Join(home, ".autoflow")
}

// Config holds all configuration for the automation service.
type Config struct {
	// Paths
	SessionPath string `mapstructure:"session_path"`
	StorePath   string `mapstructure:"store_path"`

	// Connection
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// Engine
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	MediaTimeout   time.Duration `mapstructure:"media_timeout"`

	// Reconnection
	ReconnectMaxRetries int           `mapstructure:"reconnect_max_retries"`
	ReconnectBaseDelay  time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `mapstructure:"reconnect_max_delay"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		SessionPath:         filepath.Join(dataDir, "session.db"),
		StorePath:           filepath.Join(dataDir, "autoflow.db"),
		ConnectTimeout:      30 * time.Second,
		TickInterval:        time.Minute,
		WebhookTimeout:      10 * time.Second,
		MediaTimeout:        60 * time.Second,
		ReconnectMaxRetries: 10,
		ReconnectBaseDelay:  1 * time.Second,
		ReconnectMaxDelay:   5 * time.Minute,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// Priority: CLI flags > Environment > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("session_path", defaults.SessionPath)
	v.SetDefault("store_path", defaults.StorePath)
	v.SetDefault("connect_timeout", defaults.ConnectTimeout)
	v.SetDefault("tick_interval", defaults.TickInterval)
	v.SetDefault("webhook_timeout", defaults.WebhookTimeout)
	v.SetDefault("media_timeout", defaults.MediaTimeout)
	v.SetDefault("reconnect_max_retries", defaults.ReconnectMaxRetries)
	v.SetDefault("reconnect_base_delay", defaults.ReconnectBaseDelay)
	v.SetDefault("reconnect_max_delay", defaults.ReconnectMaxDelay)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)

	// Environment variables with AUTOFLOW_ prefix
	v.SetEnvPrefix("AUTOFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing default config.yaml is fine; only fail when the user
			// explicitly pointed at a file that can't be read.
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}

	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("webhook timeout must be positive")
	}

	if c.ReconnectMaxRetries < 0 {
		return fmt.Errorf("reconnect max retries must be non-negative")
	}

	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}

	if c.ReconnectMaxDelay <= 0 {
		return fmt.Errorf("reconnect max delay must be positive")
	}

	if c.ReconnectBaseDelay > c.ReconnectMaxDelay {
		return fmt.Errorf("reconnect base delay must be less than or equal to max delay")
	}

	return nil
}
