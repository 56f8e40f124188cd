// Copyright 2024-2026 Aiku AI

package bridge

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the full relay configuration, loaded from YAML with
// RELAY_*-prefixed environment overrides applied on top.
type Config struct {
	// InstanceID namespaces all persisted state, letting several relay
	// deployments share one database file.
	InstanceID string `yaml:"instance_id" env:"RELAY_INSTANCE_ID"`

	Database DatabaseConfig `yaml:"database" envPrefix:"RELAY_DB_"`
	OneBot   OneBotConfig   `yaml:"onebot" envPrefix:"RELAY_ONEBOT_"`
	Telegram TelegramConfig `yaml:"telegram" envPrefix:"RELAY_TELEGRAM_"`
	Media    MediaConfig    `yaml:"media" envPrefix:"RELAY_MEDIA_"`
	Queue    QueueConfig    `yaml:"queue" envPrefix:"RELAY_QUEUE_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"RELAY_LOG_"`

	logLevel zerolog.Level `yaml:"-"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type OneBotConfig struct {
	// URL is the forward-websocket endpoint of the OneBot implementation.
	URL         string `yaml:"url" env:"URL"`
	AccessToken string `yaml:"access_token" env:"ACCESS_TOKEN"`
}

type TelegramConfig struct {
	Token string `yaml:"token" env:"TOKEN"`
}

type MediaConfig struct {
	// SharedDir is a directory visible to both the relay and the OneBot
	// implementation, used to hand over buffered media by path. Empty
	// falls back to a temporary directory.
	SharedDir string `yaml:"shared_dir" env:"SHARED_DIR"`
}

type QueueConfig struct {
	// MinIntervalMS paces outbound sends per platform.
	MinIntervalMS int `yaml:"min_interval_ms" env:"MIN_INTERVAL_MS"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess applies defaults and validates required fields.
func (c *Config) PostProcess() error {
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.Database.Path == "" {
		c.Database.Path = "relay.db"
	}
	if c.Queue.MinIntervalMS <= 0 {
		c.Queue.MinIntervalMS = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.OneBot.URL == "" {
		return fmt.Errorf("onebot.url is required")
	}
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}

	level, err := zerolog.ParseLevel(c.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid logging.level %q: %w", c.Logging.Level, err)
	}
	c.logLevel = level
	return nil
}

// LogLevel returns the parsed logging level. Valid after PostProcess.
func (c *Config) LogLevel() zerolog.Level {
	return c.logLevel
}

// LoadConfig reads the YAML file at path, applies environment overrides
// and post-processes the result.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}
