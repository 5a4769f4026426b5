// Package config loads client and echo-server settings from defaults, an
// optional YAML file, .env and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/room4-2/duplexvoice/audio"
	"github.com/room4-2/duplexvoice/messages"
	"github.com/room4-2/duplexvoice/transport"
)

// Config holds all client configuration
type Config struct {
	ServerURL  string        `yaml:"server_url"`
	Voice      string        `yaml:"voice"`
	TextPrompt string        `yaml:"text_prompt"`
	PromptFile string        `yaml:"prompt_file"`
	Duration   time.Duration `yaml:"duration"` // 0 means until interrupted

	QueueCapacity  int           `yaml:"queue_capacity"`
	OverflowPolicy string        `yaml:"overflow_policy"` // "drop_oldest" or "drop_newest"
	PollInterval   time.Duration `yaml:"poll_interval"`

	InsecureTLS    bool          `yaml:"tls_insecure"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	MaxMessageSize int64         `yaml:"max_message_size"`

	RedisURL      string        `yaml:"redis_url"` // empty disables the session registry
	RedisPassword string        `yaml:"redis_password"`
	SessionTTL    time.Duration `yaml:"session_ttl"`

	MQTTBroker   string `yaml:"mqtt_broker"` // empty disables event publishing
	MQTTTopic    string `yaml:"mqtt_topic"`
	MQTTClientID string `yaml:"mqtt_client_id"`
	MQTTUsername string `yaml:"mqtt_username"`
	MQTTPassword string `yaml:"mqtt_password"`

	MetricsAddr string `yaml:"metrics_addr"` // empty disables the status server

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "text" or "json"

	EchoPort int `yaml:"echo_port"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		ServerURL:      "wss://localhost:8998/ws",
		Voice:          messages.DefaultVoice,
		QueueCapacity:  audio.DefaultQueueCapacity,
		OverflowPolicy: audio.DropOldest.String(),
		PollInterval:   time.Second,
		InsecureTLS:    true,
		PingInterval:   20 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 1 << 20, // 1MB
		SessionTTL:     30 * time.Minute,
		MQTTTopic:      "duplexvoice/events",
		MQTTClientID:   "duplexvoice",
		LogLevel:       "info",
		LogFormat:      "text",
		EchoPort:       8998,
	}
}

// Load builds the configuration. path names a YAML file; when empty,
// CONFIG_FILE is used, and when that is empty too no file is read.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("VOICE"); v != "" {
		c.Voice = v
	}
	if v := os.Getenv("TEXT_PROMPT"); v != "" {
		c.TextPrompt = v
	}
	if v := os.Getenv("PROMPT_FILE"); v != "" {
		c.PromptFile = v
	}

	// Optional: SESSION_DURATION (in seconds, fractions allowed)
	if v := os.Getenv("SESSION_DURATION"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid SESSION_DURATION: %w", err)
		}
		c.Duration = time.Duration(secs * float64(time.Second))
	}

	if v := os.Getenv("QUEUE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid QUEUE_CAPACITY: %w", err)
		}
		c.QueueCapacity = n
	}
	if v := os.Getenv("OVERFLOW_POLICY"); v != "" {
		c.OverflowPolicy = v
	}

	// Optional: POLL_INTERVAL_MS (in milliseconds)
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid POLL_INTERVAL_MS: %w", err)
		}
		c.PollInterval = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("TLS_INSECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TLS_INSECURE: %w", err)
		}
		c.InsecureTLS = b
	}

	// Optional: PING_INTERVAL and PONG_WAIT (in seconds)
	if v := os.Getenv("PING_INTERVAL"); v != "" {
		s, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PING_INTERVAL: %w", err)
		}
		c.PingInterval = time.Duration(s) * time.Second
	}
	if v := os.Getenv("PONG_WAIT"); v != "" {
		s, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PONG_WAIT: %w", err)
		}
		c.PongWait = time.Duration(s) * time.Second
	}

	// Optional: MAX_MESSAGE_SIZE (in bytes)
	if v := os.Getenv("MAX_MESSAGE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_MESSAGE_SIZE: %w", err)
		}
		c.MaxMessageSize = n
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}

	// Optional: SESSION_TTL (in minutes)
	if v := os.Getenv("SESSION_TTL"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TTL: %w", err)
		}
		c.SessionTTL = time.Duration(m) * time.Minute
	}

	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTTBroker = v
	}
	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		c.MQTTTopic = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTTClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTTUsername = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTTPassword = v
	}

	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = strings.ToLower(v)
	}

	if v := os.Getenv("ECHO_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ECHO_PORT: %w", err)
		}
		c.EchoPort = p
	}
	return nil
}

// ResolvePrompt replaces TextPrompt with the trimmed contents of PromptFile,
// if one is set. A missing file is an error.
func (c *Config) ResolvePrompt() error {
	if c.PromptFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.PromptFile)
	if err != nil {
		return fmt.Errorf("failed to read prompt file: %w", err)
	}
	c.TextPrompt = strings.TrimSpace(string(data))
	return nil
}

// Validate checks the settings a session cannot run without
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.New("server URL is required")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if _, err := audio.ParseOverflowPolicy(c.OverflowPolicy); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration must not be negative, got %s", c.Duration)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be 'text' or 'json'", c.LogFormat)
	}
	return nil
}

// Overflow returns the parsed overflow policy. Call after Validate.
func (c *Config) Overflow() audio.OverflowPolicy {
	p, _ := audio.ParseOverflowPolicy(c.OverflowPolicy)
	return p
}

// TransportOptions returns the WebSocket settings for a session
func (c *Config) TransportOptions() transport.Options {
	opts := transport.DefaultOptions()
	opts.InsecureSkipVerify = c.InsecureTLS
	opts.PingPeriod = c.PingInterval
	opts.PongWait = c.PongWait
	opts.MaxMessageSize = c.MaxMessageSize
	return opts
}

// SessionConfig returns the config message sent when a session opens
func (c *Config) SessionConfig() messages.SessionConfig {
	return messages.NewSessionConfig(c.Voice, c.TextPrompt)
}
