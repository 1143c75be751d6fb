package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".autoflow", "session.db"), cfg.SessionPath)
	assert.Equal(t, filepath.Join(home, ".autoflow", "autoflow.db"), cfg.StorePath)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, time.Minute, cfg.TickInterval)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 10, cfg.ReconnectMaxRetries)
	assert.Equal(t, 1*time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.ReconnectMaxDelay)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
session_path: /custom/session.db
store_path: /custom/autoflow.db
connect_timeout: 60s
tick_interval: 30s
webhook_timeout: 5s
reconnect_max_retries: 5
reconnect_base_delay: 2s
reconnect_max_delay: 10m
log_level: debug
log_format: text
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/custom/session.db", cfg.SessionPath)
	assert.Equal(t, "/custom/autoflow.db", cfg.StorePath)
	assert.Equal(t, 60*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 5, cfg.ReconnectMaxRetries)
	assert.Equal(t, 2*time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 10*time.Minute, cfg.ReconnectMaxDelay)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log_level: info
tick_interval: 1m
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("AUTOFLOW_LOG_LEVEL", "debug")
	t.Setenv("AUTOFLOW_TICK_INTERVAL", "15s")

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Env vars override file values.
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.TickInterval)
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".autoflow", "session.db"), cfg.SessionPath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.LogLevel = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			modify: func(c *Config) {
				c.LogFormat = "yaml"
			},
			wantErr: true,
		},
		{
			name: "zero tick interval",
			modify: func(c *Config) {
				c.TickInterval = 0
			},
			wantErr: true,
		},
		{
			name: "zero webhook timeout",
			modify: func(c *Config) {
				c.WebhookTimeout = 0
			},
			wantErr: true,
		},
		{
			name: "negative reconnect retries",
			modify: func(c *Config) {
				c.ReconnectMaxRetries = -1
			},
			wantErr: true,
		},
		{
			name: "base delay above max delay",
			modify: func(c *Config) {
				c.ReconnectBaseDelay = 10 * time.Minute
				c.ReconnectMaxDelay = time.Minute
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
