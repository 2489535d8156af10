package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/linklayer"
	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/network"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	assert.Equal(t, "selective_repeat", cfg.Transport.Protocol)
	assert.Equal(t, 25, cfg.Transport.WindowSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Transport.Timeout)
	assert.Equal(t, 0.3, cfg.Transport.LossProbability)
	assert.Equal(t, ":9102", cfg.Metrics.Addr)
	assert.Equal(t, 4, cfg.Experiment.Workers)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "byzsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport:
  protocol: go_back_n
  window_size: 3
  timeout: 50ms
  medium: zmq
network:
  poll_interval: 5ms
log:
  level: debug
  encoding: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "go_back_n", cfg.Transport.Protocol)
	assert.Equal(t, 3, cfg.Transport.WindowSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Transport.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Transport.StalledTimeout)
	assert.Equal(t, network.MediumZmq, cfg.Medium())
	assert.Equal(t, "json", cfg.Log.Encoding)

	link := cfg.LinkConfig()
	assert.Equal(t, linklayer.GoBackN, link.Protocol)
	assert.Equal(t, 3, link.ARQ.WindowSize)
	assert.Equal(t, 5*time.Millisecond, link.PollInterval)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BYZSIM_TRANSPORT_WINDOW_SIZE", "7")
	t.Setenv("BYZSIM_TRANSPORT_LOSS_PROBABILITY", "0.1")
	t.Setenv("BYZSIM_METRICS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Transport.WindowSize)
	assert.Equal(t, 0.1, cfg.Transport.LossProbability)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"window", func(c *Config) { c.Transport.WindowSize = 0 }},
		{"timeout", func(c *Config) { c.Transport.Timeout = 0 }},
		{"loss", func(c *Config) { c.Transport.LossProbability = 1 }},
		{"protocol", func(c *Config) { c.Transport.Protocol = "stop_and_wait" }},
		{"medium", func(c *Config) { c.Transport.Medium = "udp" }},
		{"poll", func(c *Config) { c.Network.PollInterval = 0 }},
		{"workers", func(c *Config) { c.Experiment.Workers = 0 }},
		{"encoding", func(c *Config) { c.Log.Encoding = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("BYZSIM_TRANSPORT_PROTOCOL", "stop_and_wait")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalid)
}
