package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Link.PollAttempts)
	assert.Equal(t, 2*time.Second, cfg.Link.PollInterval)
	assert.Equal(t, 16, cfg.Link.TransportKeyLength)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, []string{"software"}, cfg.Sscd.Enabled)
	assert.Equal(t, "musap", cfg.Tracing.ServiceName)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "musap.yaml")
	content := `
link:
  url: https://link.example.com/
  poll_attempts: 3
  poll_interval: 500ms
storage:
  driver: redis
  redis:
    address: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("MUSAP_LINK_POLL_ATTEMPTS", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://link.example.com/", cfg.Link.URL)
	assert.Equal(t, 7, cfg.Link.PollAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Link.PollInterval)
	assert.Equal(t, DriverRedis, cfg.Storage.Driver)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Address)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Link:    LinkConfig{PollAttempts: 1, PollInterval: time.Second, TransportKeyLength: 32},
			Storage: StorageConfig{Driver: DriverMemory},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero attempts", func(c *Config) { c.Link.PollAttempts = 0 }},
		{"negative interval", func(c *Config) { c.Link.PollInterval = -time.Second }},
		{"bad transport key", func(c *Config) { c.Link.TransportKeyLength = 24 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "etcd" }},
		{"redis without address", func(c *Config) { c.Storage.Driver = DriverRedis }},
		{"sql bad dialect", func(c *Config) {
			c.Storage.Driver = DriverSQL
			c.Storage.SQL = SQLConfig{Dialect: "mysql", DSN: "x"}
		}},
		{"events without brokers", func(c *Config) { c.Events.Enabled = true }},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
