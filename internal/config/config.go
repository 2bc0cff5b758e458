package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Account      AccountConfig      `yaml:"account"`
	Remote       RemoteConfig       `yaml:"remote"`
	API          APIConfig          `yaml:"api"`
	Poller       PollerConfig       `yaml:"poller"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Notify       NotifyConfig       `yaml:"notify"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type AccountConfig struct {
	ID         string `yaml:"id"`
	SenderName string `yaml:"sender_name"`
}

type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type ConnectivityConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment wins over the file so keys can stay out of it.
	if key := os.Getenv("TIDEMAIL_API_KEY"); key != "" {
		cfg.Remote.APIKey = key
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = ":8090"
	}
	if cfg.Poller.Interval == 0 {
		cfg.Poller.Interval = 30 * time.Second
	}
	if cfg.Connectivity.ProbeInterval == 0 {
		cfg.Connectivity.ProbeInterval = 10 * time.Second
	}
	if cfg.Connectivity.ProbeTimeout == 0 {
		cfg.Connectivity.ProbeTimeout = 5 * time.Second
	}
	if cfg.Connectivity.SettleDelay == 0 {
		cfg.Connectivity.SettleDelay = time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if cfg.Account.ID == "" {
		return fmt.Errorf("account.id is required")
	}
	if cfg.Poller.Interval < time.Second {
		return fmt.Errorf("poller.interval must be at least 1s")
	}
	return nil
}
