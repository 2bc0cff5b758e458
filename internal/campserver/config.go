package campserver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the campaign service configuration.
type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	DBPath     string        `yaml:"db_path"`
	APIKey     string        `yaml:"api_key"`
	Logging    LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a YAML file. A missing path yields
// the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if apiKey := os.Getenv("TIDEMAIL_SERVER_API_KEY"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "./data/campaigns.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
