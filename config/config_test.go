package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/duplexvoice/audio"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "NATF2", cfg.Voice)
	assert.Equal(t, 25, cfg.QueueCapacity)
	assert.Equal(t, audio.DropOldest, cfg.Overflow())
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.True(t, cfg.InsecureTLS)
	assert.Equal(t, int64(1<<20), cfg.MaxMessageSize)
	assert.Zero(t, cfg.Duration)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "client.yaml", `
server_url: wss://yaml.example:8998/ws
voice: varm1
queue_capacity: 10
overflow_policy: drop_newest
poll_interval: 250ms
duration: 30s
`)
	t.Setenv("VOICE", "natm0")
	t.Setenv("SESSION_DURATION", "1.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://yaml.example:8998/ws", cfg.ServerURL, "from yaml")
	assert.Equal(t, 10, cfg.QueueCapacity, "from yaml")
	assert.Equal(t, audio.DropNewest, cfg.Overflow())
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "natm0", cfg.Voice, "env beats yaml")
	assert.Equal(t, 1500*time.Millisecond, cfg.Duration, "env beats yaml")
	assert.Equal(t, "NATM0.pt", cfg.SessionConfig().VoicePrompt)
}

func TestLoadInvalidEnv(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"queue capacity", "QUEUE_CAPACITY", "lots"},
		{"duration", "SESSION_DURATION", "forever"},
		{"tls", "TLS_INSECURE", "maybe"},
		{"poll interval", "POLL_INTERVAL_MS", "1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid "+tt.key)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server url", func(c *Config) { c.ServerURL = " " }},
		{"zero queue", func(c *Config) { c.QueueCapacity = 0 }},
		{"unknown policy", func(c *Config) { c.OverflowPolicy = "drop_random" }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"negative duration", func(c *Config) { c.Duration = -time.Second }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestResolvePrompt(t *testing.T) {
	cfg := Default()
	cfg.TextPrompt = "inline"
	require.NoError(t, cfg.ResolvePrompt())
	assert.Equal(t, "inline", cfg.TextPrompt, "no file keeps the inline prompt")

	cfg.PromptFile = writeFile(t, "prompt.txt", "\n  You are a helpful pirate.  \n")
	require.NoError(t, cfg.ResolvePrompt())
	assert.Equal(t, "You are a helpful pirate.", cfg.TextPrompt)

	cfg.PromptFile = filepath.Join(t.TempDir(), "missing.txt")
	assert.Error(t, cfg.ResolvePrompt())
}

func TestTransportOptions(t *testing.T) {
	cfg := Default()
	cfg.InsecureTLS = false
	cfg.PingInterval = 5 * time.Second

	opts := cfg.TransportOptions()
	assert.False(t, opts.InsecureSkipVerify)
	assert.Equal(t, 5*time.Second, opts.PingPeriod)
	assert.Equal(t, 60*time.Second, opts.PongWait)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
